// Command monty-server exposes the interpreter over QUIC: a client opens
// a bidirectional stream, sends a run request, and receives either the
// completed result or a sequence of external-call frames it must answer
// before execution continues. Each stream is one isolated execution.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/monty-lang/monty/internal/cli"
	"github.com/monty-lang/monty/internal/executor"
	"github.com/monty-lang/monty/internal/tracker"
)

const alpnProto = "monty-exec/1"

// maxFrameSize bounds a single length-prefixed JSON frame.
const maxFrameSize = 4 << 20

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		addr        = flag.String("addr", "127.0.0.1:4855", "UDP address to listen on")
		certFile    = flag.String("cert", "", "TLS certificate (self-signed when empty)")
		keyFile     = flag.String("key", "", "TLS key (self-signed when empty)")
	)
	flag.Parse()

	if *showVersion {
		cli.PrintVersion("Monty Server", *jsonOutput)
		os.Exit(0)
	}

	tlsCfg, err := serverTLS(*certFile, *keyFile)
	if err != nil {
		cli.ExitWithError("tls setup: %v", err)
	}

	ln, err := quic.ListenAddr(*addr, tlsCfg, &quic.Config{
		MaxIdleTimeout:  5 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	})
	if err != nil {
		cli.ExitWithError("listen %s: %v", *addr, err)
	}
	log.Printf("monty-server listening on %s", *addr)

	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			cli.ExitWithError("accept: %v", err)
		}
		go serveConn(conn)
	}
}

func serveConn(conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		go serveStream(stream)
	}
}

// runRequest is the client's opening frame.
type runRequest struct {
	Source     string         `json:"source"`
	Filename   string         `json:"filename"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	InputNames []string       `json:"input_names,omitempty"`
	Externals  []string       `json:"external_functions,omitempty"`
	Limits     *runLimits     `json:"limits,omitempty"`
}

type runLimits struct {
	MaxAllocations uint64 `json:"max_allocations,omitempty"`
	MaxMemoryBytes uint64 `json:"max_memory_bytes,omitempty"`
	MaxMillis      uint64 `json:"max_duration_ms,omitempty"`
	GCInterval     uint64 `json:"gc_interval,omitempty"`
}

// Server-to-client frames.
type serverFrame struct {
	Type   string         `json:"type"` // "complete", "external_call", "error", "print"
	Value  any            `json:"value,omitempty"`
	Name   string         `json:"name,omitempty"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Client-to-server resume frame.
type resumeFrame struct {
	Type  string `json:"type"` // "resume"
	Value any    `json:"value"`
}

func serveStream(stream *quic.Stream) {
	defer stream.Close()

	var req runRequest
	if err := readFrame(stream, &req); err != nil {
		_ = writeFrame(stream, serverFrame{Type: "error", Error: err.Error()})
		return
	}
	if req.Filename == "" {
		req.Filename = "<remote>"
	}

	inputs := make([]executor.HostValue, 0, len(req.InputNames))
	for _, name := range req.InputNames {
		inputs = append(inputs, jsonToHost(req.Inputs[name]))
	}

	ex, err := executor.NewIter(req.Source, req.Filename, req.InputNames, req.Externals)
	if err != nil {
		_ = writeFrame(stream, serverFrame{Type: "error", Error: err.Error()})
		return
	}

	t := buildTracker(req.Limits)
	printBuf := &streamPrinter{stream: stream}
	progress, err := ex.RunWithTracker(inputs, t, printBuf)

	for {
		if err != nil {
			_ = writeFrame(stream, serverFrame{Type: "error", Error: err.Error()})
			return
		}
		if progress.Complete {
			_ = writeFrame(stream, serverFrame{Type: "complete", Value: hostToJSON(progress.Value)})
			return
		}

		call := progress.Call
		frame := serverFrame{Type: "external_call", Name: call.Name}
		for _, a := range call.Args {
			frame.Args = append(frame.Args, hostToJSON(a))
		}
		if len(call.Kwargs) > 0 {
			frame.Kwargs = map[string]any{}
			for _, kv := range call.Kwargs {
				frame.Kwargs[kv.Key.Str] = hostToJSON(kv.Val)
			}
		}
		if werr := writeFrame(stream, frame); werr != nil {
			return
		}

		var resume resumeFrame
		if rerr := readFrame(stream, &resume); rerr != nil {
			return
		}
		progress, err = call.Resume(jsonToHost(resume.Value), printBuf)
	}
}

func buildTracker(rl *runLimits) tracker.Tracker {
	if rl == nil {
		return tracker.NewUnbounded()
	}
	limits := tracker.Limits{GCInterval: rl.GCInterval}
	if rl.MaxAllocations > 0 {
		limits.MaxAllocations = rl.MaxAllocations
		limits.HasMaxAllocs = true
	}
	if rl.MaxMemoryBytes > 0 {
		limits.MaxMemoryBytes = rl.MaxMemoryBytes
		limits.HasMaxMemory = true
	}
	if rl.MaxMillis > 0 {
		limits.MaxDuration = time.Duration(rl.MaxMillis) * time.Millisecond
		limits.HasMaxDur = true
	}
	return tracker.NewLimited(limits)
}

// streamPrinter forwards print() output to the client as it happens.
type streamPrinter struct {
	stream *quic.Stream
}

func (p *streamPrinter) Write(b []byte) (int, error) {
	if err := writeFrame(p.stream, serverFrame{Type: "print", Value: string(b)}); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Frames are length-prefixed (u32 little-endian) JSON documents.

func readFrame(r io.Reader, into any) error {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return err
	}
	if size > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return json.Unmarshal(buf, into)
}

func writeFrame(w io.Writer, frame any) error {
	buf, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(buf))); err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func jsonToHost(v any) executor.HostValue {
	switch t := v.(type) {
	case nil:
		return executor.None()
	case bool:
		return executor.Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return executor.Int(int64(t))
		}
		return executor.Float(t)
	case string:
		return executor.String(t)
	case []any:
		items := make([]executor.HostValue, len(t))
		for i, item := range t {
			items[i] = jsonToHost(item)
		}
		return executor.List(items...)
	case map[string]any:
		out := executor.HostValue{Kind: executor.HostDict}
		for k, val := range t {
			out.Pairs = append(out.Pairs, executor.HostPair{
				Key: executor.String(k),
				Val: jsonToHost(val),
			})
		}
		return out
	default:
		return executor.None()
	}
}

func hostToJSON(hv executor.HostValue) any {
	switch hv.Kind {
	case executor.HostNone:
		return nil
	case executor.HostBool:
		return hv.Bool
	case executor.HostInt:
		return hv.Int
	case executor.HostFloat:
		return hv.Float
	case executor.HostString:
		return hv.Str
	case executor.HostList, executor.HostTuple:
		out := make([]any, len(hv.Items))
		for i, item := range hv.Items {
			out[i] = hostToJSON(item)
		}
		return out
	case executor.HostDict:
		out := map[string]any{}
		for _, p := range hv.Pairs {
			out[p.Key.String()] = hostToJSON(p.Val)
		}
		return out
	}
	return nil
}

// serverTLS loads the configured certificate, or mints an ephemeral
// self-signed one for local development.
func serverTLS(certFile, keyFile string) (*tls.Config, error) {
	var cert tls.Certificate
	if certFile != "" && keyFile != "" {
		loaded, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		cert = loaded
	} else {
		minted, err := selfSignedCert()
		if err != nil {
			return nil, err
		}
		cert = minted
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProto},
	}, nil
}

func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "monty-server"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * 365 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return tls.X509KeyPair(certPEM, keyPEM)
}
