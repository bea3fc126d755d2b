package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-ledger/pkg/messaging/redis"
)

// eventsCmd tails lifecycle events from the Redis channel the outbox
// publishes to.
func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print lifecycle events published on Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			rc := redisConfig(cfg)
			if ch, _ := cmd.Flags().GetString("channel"); ch != "" {
				rc.Channel = ch
			}

			ctx := cmd.Context()
			b, err := redis.NewRedisBroker(ctx, rc, nil)
			if err != nil {
				return err
			}
			defer b.Close()

			msgs, err := b.Subscribe(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s\n", rc.Channel)
			for msg := range msgs {
				if err := enc.Encode(msg); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("channel", "", "channel to subscribe to (defaults to redis.channel)")
	return cmd
}
