package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/0xRadioAc7iv/go-hierdb/core"
	"github.com/0xRadioAc7iv/go-hierdb/hierdb"
	"github.com/0xRadioAc7iv/go-hierdb/internal"
	"github.com/0xRadioAc7iv/go-hierdb/internal/protocol"
	"github.com/0xRadioAc7iv/go-hierdb/internal/session"
	"github.com/0xRadioAc7iv/go-hierdb/internal/utils"
	"github.com/lmittmann/tint"
)

type executor func(cmd, key string, val []byte) (*protocol.Response, error)

func main() {
	host := flag.String("host", internal.DEFAULT_HOST, "hierdb server host")
	port := flag.Int("port", internal.DEFAULT_PORT, "hierdb server port")
	file := flag.String("file", "", "Open this store file directly instead of connecting to a server")
	blockSize := flag.Int("bs", core.DefaultBlockSize, "Block size (in bytes) when -file creates a new store")
	create := flag.Bool("create", false, "Create the store given by -file if it does not exist")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      utils.LogLevel(*verbose),
			TimeFormat: time.Kitchen,
		}),
	))

	var exec executor

	if *file != "" {
		if !utils.PathExists(*file) && !*create {
			log.Fatalf("%s does not exist; pass -create to create it", *file)
		}

		size := *blockSize
		if utils.PathExists(*file) {
			size = 0
		}

		db, err := core.Open(*file, size, *create, core.WithLogger(slog.Default()))
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()

		s := session.New(db, slog.Default())
		exec = func(cmd, key string, val []byte) (*protocol.Response, error) {
			return s.Execute(&protocol.Command{Cmd: cmd, Key: key, Val: val}), nil
		}

		fmt.Printf("Opened %s\n", *file)
	} else {
		client, err := hierdb.Connect(hierdb.WithHost(*host), hierdb.WithPort(*port))
		if err != nil {
			log.Fatal(err)
		}
		defer client.Close()

		exec = client.Execute

		fmt.Printf("Connected to %v:%d\n", *host, *port)
	}

	fmt.Println("Type commands. 'help' for information or 'exit' to quit.")

	if err := repl(exec); err != nil {
		fmt.Println(err)
	}
}

func repl(exec executor) error {
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}

		line = strings.TrimSpace(line)

		if line == "" {
			continue
		}

		if line == "exit" {
			return nil
		}

		cmd, key, value, err := utils.SplitStringIntoCommandAndArguments(line)
		if err != nil {
			fmt.Println(err)
			continue
		}

		resp, err := exec(cmd, key, value)
		if err != nil {
			return err
		}

		switch resp.Status {
		case protocol.StatusOK:
			fmt.Println(string(resp.Body))
		case protocol.StatusNil:
			fmt.Println("nil")
		default:
			fmt.Println("error:", string(resp.Body))
		}
	}
}
