package bridge

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestCodec_RoundTripAllTypes(t *testing.T) {
	t.Parallel()

	frames := []*Frame{
		{Type: TypeHello, NodeID: "n1"},
		{
			Type: TypeHello, NodeID: "n1", DisplayName: "Kitchen Pi", Token: "tok",
			Platform: "linux", Version: "1.2.3", DeviceFamily: "raspi",
			ModelIdentifier: "rpi4", Caps: []string{"camera", "voiceWake"},
			Commands: []string{"camera.snap", "system.notify"},
		},
		{Type: TypeHelloOK, ServerName: "gw"},
		{Type: TypeHelloOK, ServerName: "gw", CanvasHostURL: "http://10.0.0.5:18793"},
		{Type: TypeError, Code: "NOT_PAIRED", Message: "unknown node"},
		{Type: TypeEvent, Event: "voice.transcript"},
		{Type: TypeEvent, Event: "voice.transcript", PayloadJSON: `{"text":"hi"}`},
		{Type: TypeReq, ID: "r1", Method: "prefs.get"},
		{Type: TypeReq, ID: "r2", Method: "prefs.set", ParamsJSON: `{"key":"k","value":"v"}`},
		{Type: TypeRes, ID: "r1", OK: Bool(true)},
		{Type: TypeRes, ID: "r1", OK: Bool(true), PayloadJSON: `{"value":"v"}`},
		{Type: TypeRes, ID: "r2", OK: Bool(false), Error: NewError(CodeUnavailable, "nope")},
		{Type: TypePing, ID: "p1"},
		{Type: TypePong, ID: "p1"},
		{Type: TypeInvoke, ID: "i1", Command: "system.notify"},
		{Type: TypeInvoke, ID: "i1", Command: "system.notify", ParamsJSON: `{"title":"t"}`},
		{Type: TypeInvokeRes, ID: "i1", OK: Bool(true), PayloadJSON: `{}`},
		{Type: TypeInvokeRes, ID: "i1", OK: Bool(false), Error: NewError(CodeCameraDisabled, "camera off")},
		{Type: TypePairRequest, NodeID: "n2", Silent: true},
		{Type: TypePairOK, Token: "issued-token"},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("Encode(%s): %v", f.Type, err)
		}
	}

	dec := NewDecoder(&buf, nil)
	for i, want := range frames {
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("Next() frame %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("frame %d (%s) = %+v, want %+v", i, want.Type, got, want)
		}
	}

	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after drain = %v, want io.EOF", err)
	}
}

func TestDecoder_SkipsGarbageLines(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		``,
		`not json at all`,
		`{"type":"martian","id":"x"}`,
		`{"truncated":`,
		`{"type":"ping","id":"p1"}`,
	}, "\n") + "\n"

	dec := NewDecoder(strings.NewReader(input), nil)

	f, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Type != TypePing || f.ID != "p1" {
		t.Errorf("got %+v, want ping p1", f)
	}

	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() = %v, want io.EOF", err)
	}
}

func TestDecoder_IgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	input := `{"type":"hello-ok","serverName":"gw","futureField":42}` + "\n"
	dec := NewDecoder(strings.NewReader(input), nil)

	f, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.ServerName != "gw" {
		t.Errorf("ServerName = %q, want %q", f.ServerName, "gw")
	}
}

// chunkReader yields the underlying data in fixed-size pieces to exercise
// partial-line buffering across reads.
type chunkReader struct {
	data []byte
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func TestDecoder_BuffersPartialLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	want := []*Frame{
		{Type: TypeEvent, Event: "agent.request", PayloadJSON: `{"message":"do the thing"}`},
		{Type: TypePing, ID: "p9"},
	}
	for _, f := range want {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	dec := NewDecoder(&chunkReader{data: buf.Bytes(), size: 3}, nil)
	for i, w := range want {
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("Next() frame %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, w) {
			t.Errorf("frame %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestEncoder_OneLinePerFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(&Frame{Type: TypeEvent, Event: "e", PayloadJSON: "{\"text\":\"line1\\nline2\"}"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "\n") != 1 || !strings.HasSuffix(out, "\n") {
		t.Errorf("encoded frame should be exactly one newline-terminated line, got %q", out)
	}
}
