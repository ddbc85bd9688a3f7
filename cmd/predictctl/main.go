// Command predictctl talks to a running classifier service.
//
//	predictctl [flags] status
//	predictctl [flags] info
//	predictctl [flags] predict [-policy manual] [-data '{"device":"Pump"}' | -file req.json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"device-classifier/internal/client"
)

func main() {
	var (
		addr    = flag.String("addr", "http://localhost:8000", "Classifier base URL")
		timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	c := client.New(*addr, *timeout)
	ctx := context.Background()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "status":
		err = runStatus(ctx, c)
	case "info":
		err = runInfo(ctx, c)
	case "predict":
		err = runPredict(ctx, c, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: predictctl [flags] status|info|predict [predict flags]\n\n")
	flag.PrintDefaults()
}

func runStatus(ctx context.Context, c *client.Client) error {
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Println(status.Message)
	return nil
}

func runInfo(ctx context.Context, c *client.Client) error {
	info, err := c.ModelInfo(ctx)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func runPredict(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	policy := fs.String("policy", "", "Encoding policy (passthrough, manual, learned); server default when empty")
	data := fs.String("data", "", "Request body as JSON")
	file := fs.String("file", "", "Read the request body from a file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, err := readBody(*data, *file)
	if err != nil {
		return err
	}
	if !json.Valid(body) {
		return fmt.Errorf("request body is not valid JSON")
	}

	resp, err := c.Predict(ctx, *policy, body)
	if err != nil {
		return err
	}
	if resp.RequestID != "" {
		fmt.Fprintf(os.Stderr, "request id: %s\n", resp.RequestID)
	}
	return printJSON(resp)
}

func readBody(data, file string) ([]byte, error) {
	switch {
	case data != "" && file != "":
		return nil, fmt.Errorf("use either -data or -file, not both")
	case data != "":
		return []byte(data), nil
	case file == "-":
		return io.ReadAll(os.Stdin)
	case file != "":
		return os.ReadFile(file)
	default:
		return nil, fmt.Errorf("predict needs -data or -file")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
