package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/clearsync/pkg/signer"
	"github.com/layer-3/clearsync/pkg/smart_wallet"
	"github.com/layer-3/clearsync/pkg/userop"
	"github.com/layer-3/sessionauth/ports"
	"github.com/shopspring/decimal"
)

// ErrWalletMismatch is returned when a call is submitted on behalf of a provider
// that is not the service's smart wallet.
var ErrWalletMismatch = errors.New("provider is not the service smart wallet")

// UserOpClient is the part of userop.Client the relay uses
type UserOpClient interface {
	IsAccountDeployed(ctx context.Context, owner common.Address, index decimal.Decimal) (bool, error)
	GetAccountAddress(ctx context.Context, owner common.Address, index decimal.Decimal) (common.Address, error)
	NewUserOp(
		ctx context.Context,
		sender common.Address,
		signer userop.Signer,
		calls smart_wallet.Calls,
		walletDeploymentOpts *userop.WalletDeploymentOpts,
		overrides *userop.Overrides,
	) (userop.UserOperation, error)
	SendUserOp(ctx context.Context, op userop.UserOperation) (<-chan userop.Receipt, error)
}

var _ UserOpClient = (userop.Client)(nil)

// UserOpSigner picks the user operation signer for the smart wallet type.
func UserOpSigner(walletType *smart_wallet.Type, s signer.Signer) (userop.Signer, error) {
	if walletType == nil {
		return nil, errors.New("smart wallet type is not set")
	}
	switch *walletType {
	case smart_wallet.KernelType:
		return userop.SignerForKernel(s), nil
	case smart_wallet.BiconomyType:
		return userop.SignerForBiconomy(s), nil
	}
	return nil, fmt.Errorf("unsupported smart wallet type %q", walletType.String())
}

// UserOpRelay submits calls as ERC-4337 user operations from a smart wallet owned
// by the service key. Gas is covered by the paymaster configured on the client.
type UserOpRelay struct {
	client UserOpClient
	signer userop.Signer
	owner  common.Address
	index  decimal.Decimal
}

// NewUserOpRelay creates a relay for the smart wallet (owner, index)
func NewUserOpRelay(client UserOpClient, opSigner userop.Signer, owner common.Address, index decimal.Decimal) *UserOpRelay {
	return &UserOpRelay{
		client: client,
		signer: opSigner,
		owner:  owner,
		index:  index,
	}
}

var _ ports.Relay = (*UserOpRelay)(nil)

// Submit sends one user operation and waits for its receipt. The result is the bundle transaction hash.
func (r *UserOpRelay) Submit(ctx context.Context, call ports.SignedCall) (string, error) {
	sender, err := r.client.GetAccountAddress(ctx, r.owner, r.index)
	if err != nil {
		return "", fmt.Errorf("failed to resolve smart wallet: %w", err)
	}
	if sender != call.OnBehalfOf {
		return "", fmt.Errorf("%w: %s", ErrWalletMismatch, call.OnBehalfOf.Hex())
	}

	deployed, err := r.client.IsAccountDeployed(ctx, r.owner, r.index)
	if err != nil {
		return "", fmt.Errorf("failed to check smart wallet deployment: %w", err)
	}
	var deployment *userop.WalletDeploymentOpts
	if !deployed {
		deployment = &userop.WalletDeploymentOpts{Owner: r.owner, Index: r.index}
	}

	calls := smart_wallet.Calls{{To: call.Target, Value: big.NewInt(0), CallData: call.Data}}
	op, err := r.client.NewUserOp(ctx, sender, r.signer, calls, deployment, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build user operation: %w", err)
	}

	done, err := r.client.SendUserOp(ctx, op)
	if err != nil {
		return "", fmt.Errorf("failed to send user operation: %w", err)
	}

	select {
	case receipt, ok := <-done:
		if !ok {
			return "", errors.New("user operation receipt channel closed")
		}
		if !receipt.Success {
			return "", fmt.Errorf("user operation %s reverted: %s", receipt.UserOpHash.Hex(), hexutil.Encode(receipt.RevertData))
		}
		return receipt.TxHash.Hex(), nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for user operation receipt: %w", ctx.Err())
	}
}
