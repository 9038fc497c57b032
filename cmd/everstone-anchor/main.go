package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"everstone.io/anchor/bundle"
	"everstone.io/anchor/chain"
	"everstone.io/anchor/cidutil"
	"everstone.io/anchor/fees"
	"everstone.io/anchor/memorial"
	"everstone.io/anchor/protocol"
	"everstone.io/anchor/storage"
	"everstone.io/anchor/storage/gateway"
	"everstone.io/anchor/storage/grpcbundle"
	"everstone.io/anchor/storage/httpsource"
	"everstone.io/anchor/storage/localfs"
	"everstone.io/anchor/treasury"
	"everstone.io/anchor/txbuild"
	"everstone.io/anchor/verify"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "decode":
		return cmdDecode(args[1:], out, errOut)
	case "build-psbt":
		return cmdBuildPSBT(args[1:], out, errOut)
	case "fees":
		return cmdFees(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "anchor":
		return cmdAnchor(args[1:], out, errOut)
	case "pack":
		return cmdPack(args[1:], out, errOut)
	case "serve-bundles":
		return cmdServeBundles(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "everstone-anchor: EVST1 anchoring and verification CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  everstone-anchor decode (<hex-payload> | --txid <id> [--api <url>])")
	fmt.Fprintln(w, "  everstone-anchor build-psbt --payer <addr> --treasury <addr> --fee-sats <n> (--reference <slug> | --bundle <file>) [--miner-fee <n>] [--network mainnet|testnet|regtest] [--api <url>]")
	fmt.Fprintln(w, "  everstone-anchor fees [--vsize <n>]")
	fmt.Fprintln(w, "  everstone-anchor verify --txid <id> [--config <sources.json>] [--api <url>]")
	fmt.Fprintln(w, "  everstone-anchor anchor --reference <slug> [--network mainnet|testnet|regtest] [--api <url>]")
	fmt.Fprintln(w, "  everstone-anchor pack --metadata <json> --out <file.zip> [asset ...]")
	fmt.Fprintln(w, "  everstone-anchor serve-bundles --root <dir> [--listen <addr>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - anchor signs with the treasury key ("+treasury.EnvVar+" or ~/.everstone/treasury.key, mode 0600)")
	fmt.Fprintln(w, "  - build-psbt --bundle anchors the file's sha256 and CID; --reference anchors a service-mode slug")
	fmt.Fprintln(w, "  - pack writes a deterministic bundle and prints its sha256 digest and CID")
	fmt.Fprintln(w, "  - serve-bundles exposes a local bundle directory over gRPC for verifiers")
}

func networkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

func printClassified(out io.Writer, c *protocol.Classified, raw []byte) {
	switch c.Mode {
	case protocol.ModeService:
		fmt.Fprintln(out, "mode:      service")
		fmt.Fprintf(out, "reference: %s\n", c.Reference)
	case protocol.ModeBinary:
		fmt.Fprintln(out, "mode:      binary")
		fmt.Fprintf(out, "storage:   %s\n", c.Binary.StorageType)
		fmt.Fprintf(out, "privacy:   %d\n", c.Binary.Privacy)
		fmt.Fprintf(out, "digest:    %s\n", c.Binary.ContentHash)
		fmt.Fprintf(out, "pointer:   %s\n", c.Binary.StoragePointer)
	}
	fmt.Fprintf(out, "size:      %d bytes\n", len(raw))
}

func cmdDecode(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var txid string
	var api string
	fs.StringVar(&txid, "txid", "", "Decode the anchor output of this transaction")
	fs.StringVar(&api, "api", "", "Explorer API base URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var raw []byte
	switch {
	case txid != "":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		client := chain.New(chain.Options{BaseURL: api})
		tx, err := client.Transaction(ctx, txid)
		if err != nil {
			fmt.Fprintf(errOut, "fetch transaction: %v\n", err)
			return 1
		}
		raw, err = chain.LocateAnchorOutput(tx)
		if err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return 1
		}
	case fs.NArg() == 1:
		var err error
		raw, err = hex.DecodeString(strings.TrimPrefix(fs.Arg(0), "0x"))
		if err != nil {
			fmt.Fprintf(errOut, "payload is not hex: %v\n", err)
			return 2
		}
	default:
		fmt.Fprintln(errOut, "usage: everstone-anchor decode (<hex-payload> | --txid <id>)")
		return 2
	}

	c, err := protocol.Classify(raw)
	if err != nil {
		fmt.Fprintf(errOut, "decode: %v\n", err)
		return 1
	}
	printClassified(out, c, raw)
	return 0
}

func cmdBuildPSBT(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("build-psbt", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var payer, treasuryAddr, reference, bundlePath, network, api string
	var feeSats, minerFee int64
	fs.StringVar(&payer, "payer", "", "Payer address (UTXOs and change)")
	fs.StringVar(&treasuryAddr, "treasury", "", "Treasury address for the service fee")
	fs.StringVar(&reference, "reference", "", "Record slug for a service-mode anchor")
	fs.StringVar(&bundlePath, "bundle", "", "Bundle file for a content-addressed anchor")
	fs.StringVar(&network, "network", "mainnet", "Bitcoin network")
	fs.StringVar(&api, "api", "", "Explorer API base URL")
	fs.Int64Var(&feeSats, "fee-sats", 0, "Service fee in sats")
	fs.Int64Var(&minerFee, "miner-fee", txbuild.DefaultMinerFee, "Assumed miner fee in sats")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if payer == "" || treasuryAddr == "" || feeSats <= 0 {
		fmt.Fprintln(errOut, "missing --payer, --treasury or --fee-sats")
		return 2
	}
	if (reference == "") == (bundlePath == "") {
		fmt.Fprintln(errOut, "exactly one of --reference or --bundle is required")
		return 2
	}

	params, err := networkParams(network)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 2
	}

	var payload []byte
	if reference != "" {
		payload, err = protocol.EncodeServiceMode(reference)
	} else {
		var b []byte
		b, err = os.ReadFile(bundlePath)
		if err == nil {
			digest := cidutil.Digest(b)
			payload, err = protocol.EncodeBinary(protocol.StorageContentAddressed, 0, digest[:], cidutil.CIDv1RawSHA256(b))
		}
	}
	if err != nil {
		fmt.Fprintf(errOut, "payload: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client := chain.New(chain.Options{BaseURL: api})
	chainUTXOs, err := client.AddressUTXOs(ctx, payer)
	if err != nil {
		fmt.Fprintf(errOut, "fetch utxos: %v\n", err)
		return 1
	}
	utxos := make([]txbuild.UTXO, len(chainUTXOs))
	for i, u := range chainUTXOs {
		utxos[i] = txbuild.UTXO{TxID: u.TxID, Vout: u.Vout, Value: u.Value}
	}

	res, err := txbuild.NewBuilder(params).BuildUnsigned(txbuild.BuildRequest{
		PayerAddress:    payer,
		TreasuryAddress: treasuryAddr,
		Payload:         payload,
		ServiceFeeSats:  feeSats,
		MinerFeeSats:    minerFee,
		UTXOs:           utxos,
	})
	if err != nil {
		fmt.Fprintf(errOut, "build: %v\n", err)
		return 1
	}

	fmt.Fprintf(errOut, "inputs %d (%d sats), miner fee %d sats, change %d sats\n",
		len(res.Packet.UnsignedTx.TxIn), res.TotalInput, res.MinerFee, res.Change)
	fmt.Fprintln(out, res.Base64)
	return 0
}

func cmdFees(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("fees", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var vsize int64
	fs.Int64Var(&vsize, "vsize", fees.AssumedVSize, "Transaction virtual size in vbytes")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	tiers := fees.New().Tiers(ctx)
	costs := fees.EstimateCost(tiers, vsize)

	fmt.Fprintln(out, tiers.String())
	fmt.Fprintf(out, "estimated cost for %d vB: fastest %d, fast %d, standard %d sats\n",
		vsize, costs.Fastest, costs.Fast, costs.Standard)
	return 0
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var txid, configPath, api string
	fs.StringVar(&txid, "txid", "", "Anchor transaction id")
	fs.StringVar(&configPath, "config", "", "Retrieval sources JSON config")
	fs.StringVar(&api, "api", "", "Explorer API base URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if txid == "" {
		fmt.Fprintln(errOut, "missing --txid")
		return 2
	}

	opts := verify.Options{
		Chain:    chain.New(chain.Options{BaseURL: api}),
		Gateways: gateway.New(),
		Log:      zerolog.New(errOut).Level(zerolog.WarnLevel).With().Timestamp().Logger(),
	}
	if configPath != "" {
		cfg, err := storage.LoadConfigFile(configPath)
		if err != nil {
			fmt.Fprintf(errOut, "config: %v\n", err)
			return 2
		}
		if len(cfg.Gateways) > 0 {
			opts.Gateways = gateway.New(cfg.Gateways...)
		}
		switch {
		case cfg.ServiceURL != "":
			opts.Service = httpsource.New(cfg.ServiceURL)
		case cfg.GRPCTarget != "":
			grpcClient, err := grpcbundle.Dial(cfg.GRPCTarget, grpcbundle.DialOptions{})
			if err != nil {
				fmt.Fprintf(errOut, "grpc source: %v\n", err)
				return 1
			}
			defer grpcClient.Close()
			opts.Service = grpcClient
		}
	}

	v, err := verify.New(opts)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res := v.Verify(ctx, txid)

	fmt.Fprintf(out, "status: %s\n", res.Status)
	switch res.Status {
	case verify.StatusFailed:
		fmt.Fprintf(out, "reason: %s\n", res.Reason)
		if res.Err != nil {
			fmt.Fprintf(out, "cause:  %v\n", res.Err)
		}
		return 1
	case verify.StatusHashMismatch:
		fmt.Fprintf(out, "on-chain digest: %s\n", res.OnChainDigest)
		fmt.Fprintf(out, "computed digest: %s\n", res.Digest)
		return 1
	}

	fmt.Fprintf(out, "digest: %s\n", res.Digest)
	if res.DigestUnverifiable {
		fmt.Fprintln(out, "note:   service-mode anchor; digest is informational, not independently verifiable")
	}
	if res.Gateway != "" {
		fmt.Fprintf(out, "served by: %s\n", res.Gateway)
	}
	if res.ConfirmationHeight != nil {
		fmt.Fprintf(out, "confirmed at height %d\n", *res.ConfirmationHeight)
	} else {
		fmt.Fprintln(out, "confirmation: pending")
	}
	fmt.Fprintf(out, "subject: %s\n", res.Metadata.Subject.FullName)
	for name := range res.Assets {
		if !strings.Contains(name, "/") {
			fmt.Fprintf(out, "asset: %s (%d bytes)\n", name, len(res.Assets[name]))
		}
	}
	return 0
}

func cmdAnchor(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("anchor", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var reference, network, api string
	fs.StringVar(&reference, "reference", "", "Record slug to anchor")
	fs.StringVar(&network, "network", "mainnet", "Bitcoin network")
	fs.StringVar(&api, "api", "", "Explorer API base URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if reference == "" {
		fmt.Fprintln(errOut, "missing --reference")
		return 2
	}

	params, err := networkParams(network)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 2
	}
	key, err := treasury.Load(params)
	if err != nil {
		fmt.Fprintf(errOut, "treasury key: %v\n", err)
		return 1
	}

	log := zerolog.New(errOut).With().Timestamp().Logger()
	cust, err := txbuild.NewCustodian(key, chain.New(chain.Options{BaseURL: api}), log)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	txid, err := cust.AnchorReference(ctx, reference)
	if err != nil {
		fmt.Fprintf(errOut, "anchor: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, txid)
	return 0
}

func cmdPack(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var metadataPath, outPath string
	fs.StringVar(&metadataPath, "metadata", "", "Record metadata JSON file")
	fs.StringVar(&outPath, "out", "", "Output bundle file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if metadataPath == "" || outPath == "" {
		fmt.Fprintln(errOut, "missing --metadata or --out")
		return 2
	}

	metaBytes, err := os.ReadFile(metadataPath)
	if err != nil {
		fmt.Fprintf(errOut, "read metadata: %v\n", err)
		return 1
	}
	rec, err := memorial.Parse(metaBytes)
	if err != nil {
		fmt.Fprintf(errOut, "invalid metadata: %v\n", err)
		return 1
	}

	assets := make(map[string][]byte, fs.NArg())
	for _, path := range fs.Args() {
		b, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(errOut, "read asset: %v\n", err)
			return 1
		}
		assets[strings.TrimPrefix(path, "./")] = b
	}

	data, err := bundle.Pack(rec, assets)
	if err != nil {
		fmt.Fprintf(errOut, "pack: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		fmt.Fprintf(errOut, "write bundle: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "digest: %s\n", cidutil.DigestHex(data))
	fmt.Fprintf(out, "cid:    %s\n", cidutil.CIDv1RawSHA256(data))
	return 0
}

func cmdServeBundles(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("serve-bundles", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var root, listen string
	fs.StringVar(&root, "root", "", "Bundle directory")
	fs.StringVar(&listen, "listen", "127.0.0.1:7443", "Listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if root == "" {
		fmt.Fprintln(errOut, "missing --root")
		return 2
	}

	store, err := localfs.New(root)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpcbundle.RegisterBundlesServer(s, &grpcbundle.Server{Source: store})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		s.GracefulStop()
	}()

	fmt.Fprintf(errOut, "serving bundles from %s on %s\n", root, lis.Addr())
	if err := s.Serve(lis); err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	return 0
}
