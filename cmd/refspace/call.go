package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/refspace-go/internal/refnode"
	"github.com/rmacdonaldsmith/refspace-go/internal/refstore"
	"github.com/rmacdonaldsmith/refspace-go/internal/streambus"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// lookupRef is the directory function every node exports
var lookupRef = refspace.Ref{Space: "sys", ID: "lookup"}

func newCallCommand() *cobra.Command {
	var stdin bool
	cmd := &cobra.Command{
		Use:   "call ADDRESS SPACE/ID [METHOD] [ARGS...]",
		Short: "Call a function or method on a node",
		Long: `Dial a node's stream bus, look up SPACE/ID and call it. Functions are
called with ARGS; objects need a METHOD. Each argument is parsed as JSON
and falls back to a plain string. With --stdin, standard input is passed
as a readable stream after the other arguments.`,
		Example: `  refspace call 127.0.0.1:7300 api/echo upper hello
  cat file | refspace call 127.0.0.1:7300 api/echo count --stdin`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			space, id, ok := strings.Cut(args[1], "/")
			if !ok || space == "" || id == "" {
				return fmt.Errorf("target must be SPACE/ID, got %q", args[1])
			}

			var extra []any
			if stdin {
				extra = append(extra, streambus.Readable(cmd.InOrStdin()))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			result, err := callRemote(ctx, args[0], space, id, args[2:], extra)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().BoolVar(&stdin, "stdin", false, "Pass standard input as a readable stream")
	return cmd
}

// callRemote connects a throwaway store to address and performs one call.
// For objects the first of rest names the method. extra is appended to the
// parsed arguments.
func callRemote(ctx context.Context, address, space, id string, rest []string, extra []any) (any, error) {
	logger := zerolog.Nop()
	store, err := refstore.NewStore(refstore.NewConfig("").WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer store.Close()

	bus, peer, err := refnode.Dial(ctx, address, store, logger)
	if err != nil {
		return nil, err
	}
	defer bus.Close()

	lookup := lookupRef
	lookup.Peer = peer
	directory, err := store.Proxy(refspace.Descriptor{Ref: lookup, Kind: refspace.KindFunction})
	if err != nil {
		return nil, err
	}
	f, err := directory.Call(ctx, space, id)
	found, err := await(ctx, f, err)
	if err != nil {
		return nil, fmt.Errorf("lookup %s/%s: %w", space, id, err)
	}

	target, ok := found.(*refspace.Handle)
	if !ok {
		// value entities arrive as their literal
		if len(rest) > 0 {
			return nil, fmt.Errorf("%s/%s is a value", space, id)
		}
		return found, nil
	}

	switch {
	case target.Kind() == refspace.KindFunction:
		f, err = target.Call(ctx, append(parseArgs(rest), extra...)...)
	case len(rest) > 0:
		f, err = target.Invoke(ctx, rest[0], append(parseArgs(rest[1:]), extra...)...)
	default:
		return target.Descriptor(), nil
	}
	return await(ctx, f, err)
}

func await(ctx context.Context, f *refspace.Future, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.New("call produced no result")
	}
	return f.Await(ctx)
}

// parseArgs decodes each argument as JSON, keeping it as a string otherwise.
func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		args = append(args, v)
	}
	return args
}

func printResult(w io.Writer, v any) error {
	switch r := v.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(w, r)
		return err
	case []byte:
		_, err := fmt.Fprintln(w, string(r))
		return err
	case *refspace.Handle:
		v = r.Descriptor()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
