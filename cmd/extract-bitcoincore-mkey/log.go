package main

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/btcrecover/go-extract/internal/config"
	log "github.com/sirupsen/logrus"
)

func setupLogger(prog string, cfg *config.Config, w io.Writer) {
	log.SetOutput(w)
	log.SetLevel(cfg.Level())

	switch cfg.LogFormat {
	case config.FormatJSON:
		log.SetFormatter(&log.JSONFormatter{})
	case config.FormatText:
		log.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	default:
		log.SetFormatter(&plainFormatter{prog: prog})
	}
}

// plainFormatter writes "prog: level: message" lines. Fields are only
// shown at debug level and below.
type plainFormatter struct {
	prog string
}

func (f *plainFormatter) Format(e *log.Entry) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s: %s: %s", f.prog, e.Level, e.Message)

	if e.Level >= log.DebugLevel {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}
