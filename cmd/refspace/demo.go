package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// exportDemo exports the objects a fresh node serves: api/echo and the
// sys/lookup directory function clients use to reach named entities.
func exportDemo(store refspace.Store) error {
	echo := &refspace.Object{
		Values: map[string]any{
			"name":    "echo",
			"node":    store.ID(),
			"version": appVersion,
		},
		Methods: map[string]refspace.Func{
			"upper": func(ctx context.Context, args ...any) (any, error) {
				s, err := stringArg(args, 0)
				if err != nil {
					return nil, err
				}
				return strings.ToUpper(s), nil
			},
			"count": func(ctx context.Context, args ...any) (any, error) {
				if len(args) == 0 {
					return nil, fmt.Errorf("count needs a readable stream")
				}
				r, ok := args[0].(io.Reader)
				if !ok {
					return nil, fmt.Errorf("count needs a readable stream, got %T", args[0])
				}
				return io.Copy(io.Discard, r)
			},
		},
	}
	if _, err := store.Export(echo, refspace.WithRef("api", "echo")); err != nil {
		return err
	}

	lookup := refspace.Func(func(ctx context.Context, args ...any) (any, error) {
		space, err := stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		id, err := stringArg(args, 1)
		if err != nil {
			return nil, err
		}
		return store.Load(space, id)
	})
	_, err := store.Export(lookup, refspace.WithRef("sys", "lookup"))
	return err
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: expected string, got %T", i, args[i])
	}
	return s, nil
}
