package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/keyquorum/keyquorum-go/interfaces"
)

// keyServerRegistryABI is the read surface of the registry contract the
// directory queries.
const keyServerRegistryABI = `[{"type":"function","name":"keyServerInfo","stateMutability":"view","inputs":[{"name":"serverId","type":"bytes32"}],"outputs":[{"name":"name","type":"string"},{"name":"url","type":"string"},{"name":"publicKey","type":"bytes"}]}]`

// OnchainBackend resolves key-server records from a registry contract. It is
// read-only: the directory never transacts.
type OnchainBackend struct {
	caller   bind.ContractCaller
	contract common.Address
	abi      abi.ABI
}

// NewOnchainBackend creates a backend reading from the registry contract at
// the given address. caller is typically an *ethclient.Client.
func NewOnchainBackend(caller bind.ContractCaller, contract common.Address) (*OnchainBackend, error) {
	parsed, err := abi.JSON(strings.NewReader(keyServerRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("could not parse registry abi: %w", err)
	}

	return &OnchainBackend{
		caller:   caller,
		contract: contract,
		abi:      parsed,
	}, nil
}

// KeyServerInfo fetches one server record from the registry contract.
func (b *OnchainBackend) KeyServerInfo(ctx context.Context, id interfaces.ServerID) (*interfaces.KeyServerRecord, error) {
	input, err := b.abi.Pack("keyServerInfo", [32]byte(id))
	if err != nil {
		return nil, fmt.Errorf("could not pack registry call: %w", err)
	}

	output, err := b.caller.CallContract(ctx, ethereum.CallMsg{To: &b.contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("registry call failed: %w", err)
	}

	var record struct {
		Name      string
		Url       string
		PublicKey []byte
	}
	if err := b.abi.UnpackIntoInterface(&record, "keyServerInfo", output); err != nil {
		return nil, fmt.Errorf("could not unpack registry response: %w", err)
	}

	if record.Url == "" {
		return nil, errors.New("server not registered")
	}

	return &interfaces.KeyServerRecord{
		ID:        id,
		Name:      record.Name,
		URL:       record.Url,
		PublicKey: record.PublicKey,
	}, nil
}
