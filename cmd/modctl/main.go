// Command modctl is the moderator CLI: approve pending accounts and manage bans.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"marketgate.org/internal/identity"
	"marketgate.org/internal/realtime"
	"marketgate.org/internal/store/pg"
)

type settings struct {
	DSN       string `env:"MARKETGATE_PG_DSN"`
	RedisAddr string `env:"MARKETGATE_REDIS_ADDR"`
	Feed      string `env:"MARKETGATE_FEED" envDefault:"postgres"`
	Operator  string `env:"USER"`
}

const usage = `usage: modctl [flags] <command> [args]

commands:
  pending [limit]              list accounts awaiting approval
  approve <accountId>          approve an account
  ban <identifier> <reason>    ban a claimed identifier
  unban <identifier>           lift a ban
  bans                         list bans`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "modctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var s settings
	if err := env.Parse(&s); err != nil {
		return err
	}
	fs := flag.NewFlagSet("modctl", flag.ContinueOnError)
	dsn := fs.String("dsn", s.DSN, "PostgreSQL DSN")
	by := fs.String("by", s.Operator, "moderator name recorded on bans")
	fs.Usage = func() { fmt.Fprintln(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsn == "" {
		return errors.New("missing DSN: provide via -dsn or MARKETGATE_PG_DSN")
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command")
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	var publisher identity.Publisher
	if s.Feed == "redis" && s.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
		defer client.Close()
		publisher = realtime.NewRedisFeed(client)
	}
	mod := identity.NewModeration(store, store, publisher)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return dispatch(ctx, mod, *by, fs.Args())
}

func dispatch(ctx context.Context, mod *identity.Moderation, by string, args []string) error {
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	switch args[0] {
	case "pending":
		limit := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("limit: %w", err)
			}
			limit = n
		}
		items, err := mod.Pending(ctx, limit)
		if err != nil {
			return err
		}
		return out.Encode(items)
	case "approve":
		if len(args) != 2 {
			return errors.New("approve needs an account id")
		}
		acct, err := mod.Approve(ctx, args[1])
		if err != nil {
			return err
		}
		return out.Encode(acct)
	case "ban":
		if len(args) < 3 {
			return errors.New("ban needs an identifier and a reason")
		}
		ban, err := mod.Ban(ctx, args[1], args[2], by)
		if err != nil {
			return err
		}
		return out.Encode(ban)
	case "unban":
		if len(args) != 2 {
			return errors.New("unban needs an identifier")
		}
		return mod.Unban(ctx, args[1])
	case "bans":
		items, err := mod.Bans(ctx)
		if err != nil {
			return err
		}
		return out.Encode(items)
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}
