package main

import (
	"chat-relay/repositories"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
)

var kindStyles = map[string]color.Style{
	"user":       color.New(color.FgGreen),
	"one-to-one": color.New(color.FgCyan),
	"group":      color.New(color.FgMagenta),
	"message":    color.New(color.FgYellow),
	"index":      color.New(color.FgGray),
	"raw":        color.New(color.FgRed),
}

func main() {
	dbPath := pflag.String("db", "", "Path to badger DB")
	prefix := pflag.String("prefix", "", "Prefix to scan (user:, chat:, pair:, member:, msg:)")
	pflag.Parse()
	if *dbPath == "" {
		log.Fatal("--db is required")
	}

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Kind", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			if strings.HasPrefix(string(item.Key()), "seq:") {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entry := repositories.Describe(item.KeyCopy(nil), val)
			kind := entry.Kind
			if style, ok := kindStyles[kind]; ok {
				kind = style.Render(kind)
			}
			table.Append([]string{entry.Key, kind, entry.Detail})
			count++
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf(" %d keys ", count)))
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
