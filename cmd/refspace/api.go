package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/refspace-go/pkg/httpclient"
)

type apiOptions struct {
	server   string
	clientID string
	secret   string
	token    string
}

func (o *apiOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.server, "server", "http://127.0.0.1:7380", "Node HTTP API URL")
	cmd.Flags().StringVar(&o.clientID, "client-id", "refspace-cli", "Client ID for authentication")
	cmd.Flags().StringVar(&o.secret, "secret", "", "Node secret, grants the admin scope")
	cmd.Flags().StringVar(&o.token, "token", "", "JWT token (skips login)")
}

// client returns an authenticated API client
func (o *apiOptions) client(ctx context.Context, login bool) (*httpclient.Client, error) {
	client, err := httpclient.NewClient(httpclient.Config{
		ServerURL: o.server,
		ClientID:  o.clientID,
		Secret:    o.secret,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	switch {
	case o.token != "":
		client.SetToken(o.token)
	case login:
		if err := client.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
	return client, nil
}

func newRefsCommand() *cobra.Command {
	opts := &apiOptions{}
	var space, kind string
	cmd := &cobra.Command{
		Use:   "refs",
		Short: "List a node's references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client, err := opts.client(ctx, true)
			if err != nil {
				return err
			}
			resp, err := client.ListRefs(ctx, space, kind)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SPACE\tID\tKIND\tKEYS")
			for _, desc := range resp.Refs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", desc.Space, desc.ID, desc.Kind, strings.Join(desc.Keys(), ","))
			}
			return tw.Flush()
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&space, "space", "", "Only list this space")
	cmd.Flags().StringVar(&kind, "kind", "", "Only list this kind (value, function, object)")
	return cmd
}

func newPeersCommand() *cobra.Command {
	opts := &apiOptions{}
	var disconnect string
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List a node's peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client, err := opts.client(ctx, true)
			if err != nil {
				return err
			}

			if disconnect != "" {
				if err := client.DisconnectPeer(ctx, disconnect); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Disconnected %s\n", disconnect)
				return nil
			}

			resp, err := client.ListPeers(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tADDRESS\tHEALTH")
			for _, p := range resp.Peers {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Address, p.Health)
			}
			return tw.Flush()
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&disconnect, "disconnect", "", "Disconnect this peer (needs --secret)")
	return cmd
}

func newHealthCommand() *cobra.Command {
	opts := &apiOptions{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a node's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client, err := opts.client(ctx, false)
			if err != nil {
				return err
			}
			health, err := client.GetHealth(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Node: %s\n", health.NodeID)
			fmt.Fprintf(out, "Healthy: %t\n", health.Healthy)
			fmt.Fprintf(out, "Refs: %d\n", health.Refs)
			fmt.Fprintf(out, "Connected Peers: %d\n", health.ConnectedPeers)
			fmt.Fprintf(out, "Peer Link: %t\n", health.PeerLink)
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}
