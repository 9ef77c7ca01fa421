package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	defaultRPC := strings.TrimSpace(os.Getenv("DEALVAULT_RPC_URL"))
	if defaultRPC == "" {
		defaultRPC = "http://127.0.0.1:8645"
	}
	defaultAuth := strings.TrimSpace(os.Getenv("DEALVAULT_RPC_TOKEN"))

	root := flag.NewFlagSet("dealvault-cli", flag.ExitOnError)
	rpcURL := root.String("rpc", defaultRPC, "JSON-RPC endpoint")
	authToken := root.String("auth", defaultAuth, "Bearer token for authenticated RPC calls")
	root.Parse(os.Args[1:])

	args := root.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage())
		os.Exit(1)
	}

	code := 0
	switch args[0] {
	case "get":
		code = runSingleIDQuery(*rpcURL, *authToken, "deal_get", args[1:])
	case "status":
		code = runSingleIDQuery(*rpcURL, *authToken, "deal_status", args[1:])
	case "fees":
		code = runSingleIDQuery(*rpcURL, *authToken, "deal_feeBreakdown", args[1:])
	case "document":
		code = runSingleIDQuery(*rpcURL, *authToken, "deal_documentURL", args[1:])
	case "deposit":
		code = runDepositCommand(*rpcURL, *authToken, args[1:])
	case "approve":
		code = runApproveCommand(*rpcURL, *authToken, args[1:])
	case "cancel":
		code = runActorCommand(*rpcURL, *authToken, "deal_cancel", args[1:])
	case "refund":
		code = runActorCommand(*rpcURL, *authToken, "deal_refund", args[1:])
	case "deploy":
		code = runDeployCommand(*rpcURL, *authToken, args[1:])
	case "registry":
		code = runRegistryCommand(*rpcURL, *authToken, args[1:])
	case "balance":
		code = runBalanceCommand(*rpcURL, *authToken, args[1:])
	case "mint":
		code = runMintCommand(*rpcURL, *authToken, args[1:])
	case "events":
		code = runEventsCommand(*rpcURL, *authToken, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, usage())
		code = 1
	}
	if code != 0 {
		os.Exit(code)
	}
}

func runSingleIDQuery(rpcURL, auth, method string, args []string) int {
	fs := flag.NewFlagSet(method, flag.ExitOnError)
	id := fs.String("id", "", "deal identifier (0x-prefixed 32-byte hex)")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(os.Stderr, "--id is required")
		return 1
	}
	params := []interface{}{map[string]string{"id": strings.TrimSpace(*id)}}
	return callAndPrint(rpcURL, auth, method, params)
}

func runDepositCommand(rpcURL, auth string, args []string) int {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	id := fs.String("id", "", "deal identifier")
	caller := fs.String("caller", "", "buyer address")
	amount := fs.String("amount", "", "deposit amount (must equal the required total)")
	act := fs.String("act", "", "notarial act number")
	fs.Parse(args)
	for _, required := range []struct{ name, value string }{
		{"--id", *id}, {"--caller", *caller}, {"--amount", *amount}, {"--act", *act},
	} {
		if strings.TrimSpace(required.value) == "" {
			fmt.Fprintf(os.Stderr, "%s is required\n", required.name)
			return 1
		}
	}
	params := []interface{}{map[string]string{
		"id":        strings.TrimSpace(*id),
		"caller":    strings.TrimSpace(*caller),
		"value":     strings.TrimSpace(*amount),
		"actNumber": strings.TrimSpace(*act),
	}}
	return callAndPrint(rpcURL, auth, "deal_deposit", params)
}

func runApproveCommand(rpcURL, auth string, args []string) int {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	id := fs.String("id", "", "deal identifier")
	caller := fs.String("caller", "", "notary address")
	act := fs.String("act", "", "notarial act number recorded at deposit")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" || strings.TrimSpace(*caller) == "" || strings.TrimSpace(*act) == "" {
		fmt.Fprintln(os.Stderr, "--id, --caller and --act are required")
		return 1
	}
	params := []interface{}{map[string]string{
		"id":        strings.TrimSpace(*id),
		"caller":    strings.TrimSpace(*caller),
		"actNumber": strings.TrimSpace(*act),
	}}
	return callAndPrint(rpcURL, auth, "deal_approve", params)
}

func runActorCommand(rpcURL, auth, method string, args []string) int {
	fs := flag.NewFlagSet(method, flag.ExitOnError)
	id := fs.String("id", "", "deal identifier")
	caller := fs.String("caller", "", "caller address")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" || strings.TrimSpace(*caller) == "" {
		fmt.Fprintln(os.Stderr, "--id and --caller are required")
		return 1
	}
	params := []interface{}{map[string]string{
		"id":     strings.TrimSpace(*id),
		"caller": strings.TrimSpace(*caller),
	}}
	return callAndPrint(rpcURL, auth, method, params)
}

func runDeployCommand(rpcURL, auth string, args []string) int {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	caller := fs.String("caller", "", "deployer address (owner or admin)")
	value := fs.String("value", "", "submitted amount covering the deployment fee")
	buyer := fs.String("buyer", "", "buyer address")
	seller := fs.String("seller", "", "seller address")
	notary := fs.String("notary", "", "notary address")
	agent := fs.String("agent", "", "optional agent address")
	price := fs.String("price", "", "sale price")
	agentFee := fs.Uint("agent-fee-bps", 0, "agent fee in basis points")
	notaryFee := fs.Uint("notary-fee-bps", 0, "notary fee in basis points")
	description := fs.String("description", "", "property description")
	document := fs.String("document", "", "content-addressed document reference")
	name := fs.String("name", "", "contract display name")
	deadline := fs.Uint("deadline-days", 30, "approval deadline in days")
	fs.Parse(args)
	for _, required := range []struct{ name, value string }{
		{"--caller", *caller}, {"--buyer", *buyer}, {"--seller", *seller},
		{"--notary", *notary}, {"--price", *price}, {"--description", *description},
		{"--document", *document}, {"--name", *name},
	} {
		if strings.TrimSpace(required.value) == "" {
			fmt.Fprintf(os.Stderr, "%s is required\n", required.name)
			return 1
		}
	}
	payload := map[string]interface{}{
		"caller":              strings.TrimSpace(*caller),
		"buyer":               strings.TrimSpace(*buyer),
		"seller":              strings.TrimSpace(*seller),
		"notary":              strings.TrimSpace(*notary),
		"price":               strings.TrimSpace(*price),
		"agentFeeBps":         *agentFee,
		"notaryFeeBps":        *notaryFee,
		"propertyDescription": strings.TrimSpace(*description),
		"documentRef":         strings.TrimSpace(*document),
		"contractName":        strings.TrimSpace(*name),
		"deadlineDays":        *deadline,
	}
	if trimmed := strings.TrimSpace(*agent); trimmed != "" {
		payload["agent"] = trimmed
	}
	if trimmed := strings.TrimSpace(*value); trimmed != "" {
		payload["value"] = trimmed
	}
	return callAndPrint(rpcURL, auth, "factory_deploy", []interface{}{payload})
}

func runRegistryCommand(rpcURL, auth string, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: registry recent|active|get|stats [options]")
		return 1
	}
	switch args[0] {
	case "recent", "active":
		fs := flag.NewFlagSet("registry "+args[0], flag.ExitOnError)
		offset := fs.Int("offset", 0, "entries to skip")
		limit := fs.Int("limit", 0, "maximum entries to return")
		fs.Parse(args[1:])
		params := []interface{}{map[string]int{"offset": *offset, "limit": *limit}}
		return callAndPrint(rpcURL, auth, "factory_"+args[0], params)
	case "get":
		fs := flag.NewFlagSet("registry get", flag.ExitOnError)
		id := fs.Uint64("id", 0, "registry instance identifier")
		fs.Parse(args[1:])
		if *id == 0 {
			fmt.Fprintln(os.Stderr, "--id is required")
			return 1
		}
		params := []interface{}{map[string]uint64{"id": *id}}
		return callAndPrint(rpcURL, auth, "factory_get", params)
	case "stats":
		return callAndPrint(rpcURL, auth, "factory_stats", nil)
	default:
		fmt.Fprintf(os.Stderr, "unknown registry subcommand: %s\n", args[0])
		return 1
	}
}

func runBalanceCommand(rpcURL, auth string, args []string) int {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	address := fs.String("address", "", "account address")
	fs.Parse(args)
	if strings.TrimSpace(*address) == "" {
		fmt.Fprintln(os.Stderr, "--address is required")
		return 1
	}
	params := []interface{}{map[string]string{"address": strings.TrimSpace(*address)}}
	return callAndPrint(rpcURL, auth, "bank_getBalance", params)
}

func runMintCommand(rpcURL, auth string, args []string) int {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	caller := fs.String("caller", "", "owner address authorizing the mint")
	address := fs.String("address", "", "account address")
	amount := fs.String("amount", "", "amount to credit")
	fs.Parse(args)
	if strings.TrimSpace(*caller) == "" || strings.TrimSpace(*address) == "" || strings.TrimSpace(*amount) == "" {
		fmt.Fprintln(os.Stderr, "--caller, --address and --amount are required")
		return 1
	}
	params := []interface{}{map[string]string{
		"caller":  strings.TrimSpace(*caller),
		"address": strings.TrimSpace(*address),
		"amount":  strings.TrimSpace(*amount),
	}}
	return callAndPrint(rpcURL, auth, "bank_mint", params)
}

func runEventsCommand(rpcURL, auth string, args []string) int {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 0, "maximum number of events to return")
	fs.Parse(args)
	var params []interface{}
	if *limit > 0 {
		params = []interface{}{map[string]int{"limit": *limit}}
	}
	return callAndPrint(rpcURL, auth, "events_list", params)
}

func callAndPrint(rpcURL, auth, method string, params []interface{}) int {
	result, rpcErr, err := callRPC(rpcURL, auth, method, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		printRPCError(rpcErr)
		return 1
	}
	var decoded interface{}
	if err := json.Unmarshal(result, &decoded); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		return 1
	}
	if err := printJSON(decoded); err != nil {
		fmt.Fprintf(os.Stderr, "print response: %v\n", err)
		return 1
	}
	return 0
}

func callRPC(rpcURL, authToken, method string, params []interface{}) (json.RawMessage, *rpcError, error) {
	if params == nil {
		params = []interface{}{}
	}
	reqBody := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: int(time.Now().UnixNano())}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(authToken) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(authToken))
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, nil, fmt.Errorf("rpc status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error, nil
	}
	return rpcResp.Result, nil, nil
}

func printRPCError(err *rpcError) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "RPC error (%d): %s\n", err.Code, err.Message)
	if len(err.Data) > 0 && string(err.Data) != "null" {
		fmt.Fprintf(os.Stderr, "Details: %s\n", strings.TrimSpace(string(err.Data)))
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func usage() string {
	return "dealvault-cli usage:\n  dealvault-cli [--rpc URL] [--auth TOKEN] <command> [options]\n\nCommands:\n  get --id <deal>                 Fetch a deal snapshot\n  status --id <deal>              Show lifecycle status and custodied balance\n  fees --id <deal>                Show the fee breakdown and required deposit\n  document --id <deal>            Show the derived document URL\n  deposit --id D --caller A --amount X --act N\n  approve --id D --caller A --act N\n  cancel --id D --caller A\n  refund --id D --caller A\n  deploy --caller A --buyer B --seller S --notary N --price X ... \n  registry recent|active|get|stats [options]\n  balance --address A\n  mint --caller O --address A --amount X\n  events [--limit N]\n"
}
