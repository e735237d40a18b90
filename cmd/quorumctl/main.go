// quorumctl is a development tool for the threshold key-release client. It
// can run local mock key servers, resolve directory records, and encrypt or
// decrypt files against a static directory.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"

	"github.com/keyquorum/keyquorum-go/cache"
	"github.com/keyquorum/keyquorum-go/ciphersuite"
	"github.com/keyquorum/keyquorum-go/client"
	"github.com/keyquorum/keyquorum-go/directory"
	"github.com/keyquorum/keyquorum-go/interfaces"
	"github.com/keyquorum/keyquorum-go/mockserver"
	"github.com/keyquorum/keyquorum-go/session"
)

var (
	directoryFlag = &cli.StringFlag{
		Name:  "directory",
		Usage: "path to a JSON key server directory file",
	}
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "blockchain RPC endpoint for on-chain directory lookups",
	}
	contractFlag = &cli.StringFlag{
		Name:  "contract",
		Usage: "registry contract address for on-chain directory lookups",
	}
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	app := &cli.App{
		Name:  "quorumctl",
		Usage: "threshold key-release client tooling",
		Commands: []*cli.Command{
			keygenCommand(),
			serveCommand(logger),
			resolveCommand(),
			encryptCommand(),
			decryptCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("command failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate a wallet key for session signing",
		Action: func(_ *cli.Context) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}

			fmt.Printf("private key: %s\n", hex.EncodeToString(crypto.FromECDSA(key)))
			fmt.Printf("address:     %s\n", crypto.PubkeyToAddress(key.PublicKey))
			return nil
		},
	}
}

func serveCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run local mock key servers and write their directory file",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "servers", Value: 3, Usage: "number of key servers to run"},
			&cli.StringFlag{Name: "out", Value: "directory.json", Usage: "directory file to write"},
		},
		Action: func(cliCtx *cli.Context) error {
			count := cliCtx.Int("servers")
			records := make([]*interfaces.KeyServerRecord, 0, count)
			for i := 0; i < count; i++ {
				srv, err := mockserver.New(fmt.Sprintf("keyserver-%d", i), logger)
				if err != nil {
					return err
				}
				defer srv.Close()
				records = append(records, srv.Record())
				logger.Info("key server running",
					slog.String("name", srv.Record().Name),
					slog.String("url", srv.URL()),
					slog.String("id", srv.ID().String()))
			}

			if err := writeDirectoryFile(cliCtx.String("out"), records); err != nil {
				return err
			}
			logger.Info("directory file written", slog.String("path", cliCtx.String("out")))

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "resolve key server records",
		ArgsUsage: "server-id [server-id...]",
		Flags:     []cli.Flag{directoryFlag, rpcFlag, contractFlag},
		Action: func(cliCtx *cli.Context) error {
			ids := make([]interfaces.ServerID, 0, cliCtx.NArg())
			for _, arg := range cliCtx.Args().Slice() {
				id, err := interfaces.NewServerIDFromHex(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			backend, err := directoryBackend(cliCtx)
			if err != nil {
				return err
			}

			engine, err := client.New(client.Config{
				Backend:        backend,
				Suite:          ciphersuite.New(),
				DirectoryCache: cache.NewMapCache[interfaces.ServerID, *interfaces.KeyServerRecord](),
			})
			if err != nil {
				return err
			}

			records, err := engine.ServerRecords(context.Background(), ids)
			if err != nil {
				return err
			}

			for _, record := range records {
				fmt.Printf("%s\t%s\t%s\t%s\n", record.ID, record.Name, record.URL, hex.EncodeToString(record.PublicKey))
			}
			return nil
		},
	}
}

func encryptCommand() *cli.Command {
	return &cli.Command{
		Name:  "encrypt",
		Usage: "encrypt a file into a threshold envelope",
		Flags: []cli.Flag{
			directoryFlag, rpcFlag, contractFlag,
			&cli.StringFlag{Name: "package", Required: true, Usage: "package id (hex)"},
			&cli.StringFlag{Name: "id", Required: true, Usage: "item id (hex)"},
			&cli.UintFlag{Name: "threshold", Value: 2, Usage: "number of shares required to decrypt"},
			&cli.StringSliceFlag{Name: "server", Required: true, Usage: "key server id (hex), repeatable"},
			&cli.StringFlag{Name: "in", Required: true, Usage: "plaintext input file"},
			&cli.StringFlag{Name: "out", Required: true, Usage: "envelope output file"},
		},
		Action: func(cliCtx *cli.Context) error {
			packageID, err := interfaces.NewPackageIDFromHex(cliCtx.String("package"))
			if err != nil {
				return err
			}
			itemID, err := hex.DecodeString(cliCtx.String("id"))
			if err != nil {
				return fmt.Errorf("invalid item id: %w", err)
			}

			servers := make([]interfaces.ServerID, 0, len(cliCtx.StringSlice("server")))
			for _, raw := range cliCtx.StringSlice("server") {
				id, err := interfaces.NewServerIDFromHex(raw)
				if err != nil {
					return err
				}
				servers = append(servers, id)
			}

			data, err := os.ReadFile(cliCtx.String("in"))
			if err != nil {
				return err
			}

			backend, err := directoryBackend(cliCtx)
			if err != nil {
				return err
			}

			engine, err := client.New(client.Config{Backend: backend, Suite: ciphersuite.New()})
			if err != nil {
				return err
			}

			envelope, err := engine.Encrypt(context.Background(), packageID, itemID, uint8(cliCtx.Uint("threshold")), servers, data)
			if err != nil {
				return err
			}

			encoded, err := envelope.Bytes()
			if err != nil {
				return err
			}
			return os.WriteFile(cliCtx.String("out"), encoded, 0o644)
		},
	}
}

func decryptCommand() *cli.Command {
	return &cli.Command{
		Name:  "decrypt",
		Usage: "decrypt a threshold envelope",
		Flags: []cli.Flag{
			directoryFlag, rpcFlag, contractFlag,
			&cli.StringFlag{Name: "key", Required: true, Usage: "wallet private key (hex)"},
			&cli.UintFlag{Name: "ttl", Value: 10, Usage: "session ttl in minutes"},
			&cli.StringFlag{Name: "in", Required: true, Usage: "envelope input file"},
			&cli.StringFlag{Name: "out", Required: true, Usage: "plaintext output file"},
		},
		Action: func(cliCtx *cli.Context) error {
			encoded, err := os.ReadFile(cliCtx.String("in"))
			if err != nil {
				return err
			}

			envelope, err := interfaces.ParseEnvelope(encoded)
			if err != nil {
				return err
			}

			signer, err := session.NewPrivateKeySignerFromHex(cliCtx.String("key"))
			if err != nil {
				return err
			}

			backend, err := directoryBackend(cliCtx)
			if err != nil {
				return err
			}

			suite := ciphersuite.New()
			engine, err := client.New(client.Config{Backend: backend, Suite: suite})
			if err != nil {
				return err
			}

			ctx := context.Background()
			sess, err := session.New(ctx, suite, envelope.PackageID, uint16(cliCtx.Uint("ttl")), signer)
			if err != nil {
				return err
			}

			approval, err := mockserver.Approval(envelope.PackageID, envelope.ID)
			if err != nil {
				return err
			}

			plaintext, err := engine.Decrypt(ctx, encoded, approval, sess)
			if err != nil {
				return err
			}
			return os.WriteFile(cliCtx.String("out"), plaintext, 0o600)
		},
	}
}

// directoryRecordJSON is one entry in a directory file.
type directoryRecordJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	PublicKey string `json:"public_key"`
}

func writeDirectoryFile(path string, records []*interfaces.KeyServerRecord) error {
	entries := make([]directoryRecordJSON, 0, len(records))
	for _, record := range records {
		entries = append(entries, directoryRecordJSON{
			ID:        record.ID.String(),
			Name:      record.Name,
			URL:       record.URL,
			PublicKey: hex.EncodeToString(record.PublicKey),
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func loadDirectoryFile(path string) (*directory.StaticBackend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []directoryRecordJSON
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("malformed directory file: %w", err)
	}

	backend := directory.NewStaticBackend()
	for _, entry := range entries {
		id, err := interfaces.NewServerIDFromHex(entry.ID)
		if err != nil {
			return nil, err
		}
		publicKey, err := hex.DecodeString(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid public key for %s: %w", entry.ID, err)
		}
		backend.Add(&interfaces.KeyServerRecord{
			ID:        id,
			Name:      entry.Name,
			URL:       entry.URL,
			PublicKey: publicKey,
		})
	}
	return backend, nil
}

func directoryBackend(cliCtx *cli.Context) (interfaces.DirectoryBackend, error) {
	if path := cliCtx.String("directory"); path != "" {
		return loadDirectoryFile(path)
	}

	rpc := cliCtx.String("rpc")
	contract := cliCtx.String("contract")
	if rpc == "" || contract == "" {
		return nil, fmt.Errorf("either --directory or both --rpc and --contract are required")
	}

	ethClient, err := ethclient.Dial(rpc)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", rpc, err)
	}

	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %s", contract)
	}
	return directory.NewOnchainBackend(ethClient, common.HexToAddress(contract))
}
