// bananacat - transcode between banana token streams and CBOR
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/banana"
	"github.com/chazu/banana/token"
)

func main() {
	decode := flag.Bool("decode", false, "Read banana tokens from stdin, write CBOR to stdout")
	encode := flag.Bool("encode", false, "Read CBOR from stdin, write banana tokens to stdout")
	configPath := flag.String("config", "", "TOML connection config (vocabulary, size limits)")
	streaming := flag.Bool("streaming", false, "Allow streaming slicers when encoding")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bananacat (-decode | -encode) [options]\n\n")
		fmt.Fprintf(os.Stderr, "Transcodes between banana token streams and CBOR on stdin/stdout.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bananacat -decode < stream.banana > objects.cbor\n")
		fmt.Fprintf(os.Stderr, "  bananacat -encode -config conn.toml < objects.cbor > stream.banana\n")
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(1, nil)
	}

	if *decode == *encode {
		flag.Usage()
		os.Exit(2)
	}

	var cfg *banana.Config
	if *configPath != "" {
		c, err := banana.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = c
	}

	var err error
	if *decode {
		err = runDecode(os.Stdin, os.Stdout, cfg)
	} else {
		err = runEncode(os.Stdin, os.Stdout, cfg, *streaming)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runDecode drains a banana stream, writing each top-level object as one
// CBOR item. Recoverable violations are reported and skipped; anything
// else ends the run.
func runDecode(in io.Reader, out io.Writer, cfg *banana.Config) error {
	var opts []banana.DecoderOption
	if cfg != nil {
		if v := cfg.Vocabulary(); v != nil {
			opts = append(opts, banana.WithIncomingVocabulary(v))
		}
		if cfg.Limits.MaxTokenSize != 0 {
			opts = append(opts, banana.WithMaxTokenSize(cfg.Limits.MaxTokenSize))
		}
	}
	dec := banana.NewDecoder(in, opts...)

	encOpts, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return err
	}
	enc := encOpts.NewEncoder(out)

	for {
		obj, err := dec.Receive()
		if err == io.EOF {
			return nil
		}
		var v *token.Violation
		if errors.As(err, &v) {
			fmt.Fprintf(os.Stderr, "skipped: %v\n", v)
			continue
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(obj); err != nil {
			return err
		}
	}
}

// runEncode reads CBOR items and sends each as one top-level banana
// object.
func runEncode(in io.Reader, out io.Writer, cfg *banana.Config, streaming bool) error {
	opts := []banana.EncoderOption{banana.WithStreaming(streaming)}
	if cfg != nil {
		if v := cfg.Vocabulary(); v != nil {
			opts = append(opts, banana.WithOutgoingVocabulary(v))
		}
	}
	enc := banana.NewEncoder(out, opts...)
	dec := cbor.NewDecoder(in)

	for {
		var obj any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := enc.Send(normalize(obj)); err != nil {
			var v *token.Violation
			if errors.As(err, &v) {
				fmt.Fprintf(os.Stderr, "skipped: %v\n", v)
				continue
			}
			return err
		}
	}
}

// normalize maps CBOR decode shapes onto the kinds the banana taster
// knows: map[any]any keys become strings, numeric widths collapse to
// int64 or big.Int.
func normalize(obj any) any {
	switch o := obj.(type) {
	case map[any]any:
		m := make(map[string]any, len(o))
		for k, v := range o {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(o))
		for k, v := range o {
			m[k] = normalize(v)
		}
		return m
	case []any:
		l := make([]any, len(o))
		for i, v := range o {
			l[i] = normalize(v)
		}
		return l
	case uint64:
		return o
	case int8:
		return int64(o)
	case int16:
		return int64(o)
	case int32:
		return int64(o)
	case float32:
		return float64(o)
	case []byte:
		return string(o)
	case big.Int:
		return &o
	default:
		return obj
	}
}
