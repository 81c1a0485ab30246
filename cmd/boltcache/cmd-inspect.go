package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/you112ef/boltcache/persist"
)

type inspectCmd struct {
	Backend   string `help:"Storage to read: bolt or redis." enum:"bolt,redis" default:"bolt"`
	Path      string `help:"bbolt database file." default:"boltcache.db"`
	Bucket    string `help:"bbolt bucket." default:"boltcache"`
	Addr      string `help:"Redis host:port." default:"localhost:6379"`
	Password  string `help:"Redis password." env:"BOLTCACHE_REDIS_PASSWORD"`
	DB        int    `help:"Redis database number."`
	Namespace string `help:"Cache namespace to list." default:"boltcache"`
	Limit     int    `help:"Maximum records to print. 0 prints all." default:"0"`
}

func (cmd *inspectCmd) Run() error {
	ctx := context.Background()

	var (
		storage persist.Storage
		err     error
	)
	switch cmd.Backend {
	case "bolt":
		storage, err = openBoltReadOnly(cmd.Path, cmd.Bucket)
	case "redis":
		storage, err = dialRedis(ctx, cmd.Addr, cmd.Password, cmd.DB)
	default:
		err = fmt.Errorf("unknown backend %q", cmd.Backend)
	}
	if err != nil {
		return err
	}
	defer func() { _ = storage.Close() }()

	_, err = listRecords(ctx, os.Stdout, storage, cmd.Namespace, time.Now(), cmd.Limit)
	return err
}

func openBoltReadOnly(path, bucket string) (persist.Storage, error) {
	s, err := persist.OpenBolt(persist.BoltConfig{Path: path, Bucket: bucket, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func dialRedis(ctx context.Context, addr, password string, db int) (persist.Storage, error) {
	s, err := persist.DialRedis(ctx, persist.RedisConfig{Addr: addr, Password: password, DB: db, Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// listRecords renders the records of namespace as a table and returns how
// many were listed. Records that fail to decode are shown as corrupt.
func listRecords(ctx context.Context, w io.Writer, storage persist.Storage, namespace string, now time.Time, limit int) (int, error) {
	prefix := namespace + ":"
	keys, err := storage.Keys(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Key", "Size", "Created", "Expires", "Tags"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})

	var (
		total   uint64
		expired int
		listed  int
	)
	for _, key := range keys {
		data, ok, err := storage.Read(ctx, key)
		if err != nil {
			return listed, fmt.Errorf("read %s: %w", key, err)
		}
		if !ok {
			continue
		}
		listed++
		name := strings.TrimPrefix(key, prefix)

		rec, err := persist.UnmarshalRecord(data)
		if err != nil {
			if !errors.Is(err, persist.ErrCorruptRecord) {
				return listed, err
			}
			t.AppendRow(table.Row{name, humanize.IBytes(uint64(len(data))), "-", "corrupt", "-"})
			continue
		}

		size := uint64(len(rec.Value))
		total += size
		expires := humanize.RelTime(rec.ExpiresAt, now, "ago", "from now")
		switch {
		case rec.ExpiresAt.IsZero():
			expires = "never"
		case rec.Expired(now):
			expired++
			expires = "expired " + expires
		}
		t.AppendRow(table.Row{
			name,
			humanize.IBytes(size),
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
			expires,
			strings.Join(rec.Tags, ","),
		})
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("%s records", humanize.Comma(int64(listed))),
		humanize.IBytes(total),
		"",
		fmt.Sprintf("%d expired", expired),
		"",
	})
	t.Render()
	return listed, nil
}
