package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tuannm99/novarec/internal"
	"github.com/tuannm99/novarec/internal/engine"
	"github.com/tuannm99/novarec/internal/heap"
	"github.com/tuannm99/novarec/internal/record"
)

const helpText = `commands:
  insert v1 v2 ...        insert a row, one value per column ('quoted' text, null)
  get POS                 print the row at POS
  update POS v1 v2 ...    replace the row at POS
  delete POS              delete the row at POS
  scan [N]                print up to N rows in file order
  check [rows]            verify blocks and the delete chain (and every row)
  stats                   print table counters
  append on|off           grow the file instead of reusing deleted blocks
  help                    show help
  quit | exit             quit`

// shell runs commands against one table.
type shell struct {
	tbl    *heap.Table
	format *record.Format
}

// tokenize splits a command line on spaces, keeping 'single quoted' words
// together. Two quotes inside a quoted word stand for one.
func tokenize(line string) ([]string, error) {
	var out []string
	var cur strings.Builder
	inQuote, quoted := false, false

	flush := func() {
		if cur.Len() > 0 || quoted {
			out = append(out, cur.String())
		}
		cur.Reset()
		quoted = false
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote && c == '\'' && i+1 < len(line) && line[i+1] == '\'':
			cur.WriteByte('\'')
			i++
		case c == '\'':
			inQuote = !inQuote
			quoted = true
		case !inQuote && (c == ' ' || c == '\t'):
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, errors.New("unterminated quote")
	}
	flush()
	return out, nil
}

// parseValues converts words to Go values for the columns of f.
func parseValues(f *record.Format, words []string) ([]any, error) {
	s := f.Schema()
	if len(words) != len(s.Cols) {
		return nil, fmt.Errorf("want %d values, got %d", len(s.Cols), len(words))
	}
	out := make([]any, len(words))
	for i, w := range words {
		col := s.Cols[i]
		if strings.EqualFold(w, "null") {
			continue
		}
		var err error
		switch col.Type {
		case record.ColInt32:
			var n int64
			n, err = strconv.ParseInt(w, 10, 32)
			out[i] = int32(n)
		case record.ColInt64:
			out[i], err = strconv.ParseInt(w, 10, 64)
		case record.ColFloat64:
			out[i], err = strconv.ParseFloat(w, 64)
		case record.ColBool:
			out[i], err = strconv.ParseBool(w)
		case record.ColText, record.ColChar:
			out[i] = w
		case record.ColBytes, record.ColFixed:
			out[i] = []byte(w)
		}
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
	}
	return out, nil
}

func formatRow(f *record.Format, pos int64, row []any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%8d |", pos)
	for i, v := range row {
		if i > 0 {
			b.WriteString(" |")
		}
		switch x := v.(type) {
		case nil:
			b.WriteString(" NULL")
		case []byte:
			if len(x) > 32 {
				fmt.Fprintf(&b, " %q... (%d bytes)", x[:32], len(x))
			} else {
				fmt.Fprintf(&b, " %q", x)
			}
		default:
			fmt.Fprintf(&b, " %v", x)
		}
	}
	return b.String()
}

func parsePos(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errors.New("missing position")
	}
	return strconv.ParseInt(args[0], 10, 64)
}

// exec runs one command line and returns what to print.
func (sh *shell) exec(line string) (string, error) {
	words, err := tokenize(line)
	if err != nil || len(words) == 0 {
		return "", err
	}
	cmd, args := strings.ToLower(words[0]), words[1:]

	switch cmd {
	case "help", "\\help":
		return helpText, nil

	case "insert":
		values, err := parseValues(sh.format, args)
		if err != nil {
			return "", err
		}
		pos, err := sh.tbl.Insert(values)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("inserted at %d", pos), nil

	case "get":
		pos, err := parsePos(args)
		if err != nil {
			return "", err
		}
		row, err := sh.tbl.Get(pos)
		if err != nil {
			return "", err
		}
		return formatRow(sh.format, pos, row), nil

	case "update":
		pos, err := parsePos(args)
		if err != nil {
			return "", err
		}
		values, err := parseValues(sh.format, args[1:])
		if err != nil {
			return "", err
		}
		if err := sh.tbl.Update(pos, values); err != nil {
			return "", err
		}
		return "OK", nil

	case "delete":
		pos, err := parsePos(args)
		if err != nil {
			return "", err
		}
		if err := sh.tbl.Delete(pos); err != nil {
			return "", err
		}
		return "OK", nil

	case "scan":
		limit := -1
		if len(args) > 0 {
			if limit, err = strconv.Atoi(args[0]); err != nil {
				return "", err
			}
		}
		var b strings.Builder
		n := 0
		err := sh.tbl.Scan(func(pos int64, row []any) error {
			if limit >= 0 && n >= limit {
				return heap.ErrStopScan
			}
			b.WriteString(formatRow(sh.format, pos, row))
			b.WriteByte('\n')
			n++
			return nil
		})
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "(%d rows)", n)
		return b.String(), nil

	case "check":
		rep, err := sh.tbl.Check(len(args) > 0 && args[0] == "rows")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ok: %d blocks, %d records, %d continuation, %d deleted (%d bytes), longest chain %d",
			rep.Blocks, rep.Records, rep.LinkedBlocks, rep.DeletedBlocks, rep.DeletedBytes, rep.LongestChain), nil

	case "stats":
		st := sh.tbl.State()
		return fmt.Sprintf("records=%d data_length=%d deleted=%d empty=%d blocks=%d del_link=%d",
			st.Records, st.DataLength, st.Deleted, st.Empty, st.Splits, st.DelLink), nil

	case "append":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return "", errors.New("usage: append on|off")
		}
		sh.tbl.SetAppendInsertAtEnd(args[0] == "on")
		return "OK", nil
	}
	return "", fmt.Errorf("unknown command: %s", cmd)
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".rowshell_history"
	}
	return filepath.Join(home, ".rowshell_history")
}

func openTable(db *engine.Database, cfg *internal.NovaRecConfig) (*heap.Table, error) {
	tbl, err := db.OpenTable(cfg.Table.Name)
	if !errors.Is(err, engine.ErrNoSuchTable) {
		return tbl, err
	}
	schema, err := cfg.Schema()
	if err != nil {
		return nil, err
	}
	return db.CreateTable(cfg.Table.Name, schema)
}

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config file")
		histPath = flag.String("history", defaultHistoryPath(), "history file path")
		oneShot  = flag.String("c", "", "execute one command and exit")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := internal.NewLogger(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	db := engine.NewDatabase(cfg.Storage.Workdir, cfg.TableOptions(log))
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	tbl, err := openTable(db, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open table %s: %v\n", cfg.Table.Name, err)
		return
	}
	sh := &shell{tbl: tbl, format: tbl.Format()}

	if strings.TrimSpace(*oneShot) != "" {
		out, err := sh.exec(*oneShot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}
		fmt.Println(out)
		return
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Table.Name + "> ",
		HistoryFile:     *histPath,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		return
	}
	defer func() { _ = rl.Close() }()

	fmt.Printf("table %s in %s\n", cfg.Table.Name, cfg.Storage.Workdir)
	fmt.Println("type help for help")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			// EOF
			fmt.Println()
			return
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "quit", "exit", "\\q":
			return
		}

		out, err := sh.exec(line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Println(out)
		}
	}
}
