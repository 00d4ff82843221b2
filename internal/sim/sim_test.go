package sim

import (
	"bufio"
	"strings"
	"testing"
)

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimRight(line, "\r\n")
}

func TestStartupBanner(t *testing.T) {
	d := New()
	defer d.Close()
	r := bufio.NewReader(d)

	if got := readLine(t, r); !strings.HasPrefix(got, "Grbl 1.1") {
		t.Fatalf("banner = %q", got)
	}
}

func TestStatusReportTracksMotion(t *testing.T) {
	d := New()
	defer d.Close()
	r := bufio.NewReader(d)
	readLine(t, r) // banner

	d.Write([]byte("G0 X10 Y5\n"))
	if got := readLine(t, r); got != "ok" {
		t.Fatalf("reply = %q", got)
	}

	d.Write([]byte("?"))
	status := readLine(t, r)
	if !strings.Contains(status, "MPos:10.000,5.000,0.000") {
		t.Fatalf("status = %q", status)
	}
	if !strings.Contains(status, "Bf:15,128") {
		t.Fatalf("status lacks buffer field: %q", status)
	}
}

func TestRxBufferFillTracked(t *testing.T) {
	d := New()
	defer d.Close()
	r := bufio.NewReader(d)
	readLine(t, r)

	// a partial line holds its bytes until the newline executes it
	d.Write([]byte("G0 X1"))
	d.Write([]byte("?"))
	if got := readLine(t, r); !strings.Contains(got, "Bf:15,123") {
		t.Fatalf("status = %q, want 5 bytes in use", got)
	}

	d.Write([]byte("\n"))
	if got := readLine(t, r); got != "ok" {
		t.Fatalf("reply = %q", got)
	}
	d.Write([]byte("?"))
	if got := readLine(t, r); !strings.Contains(got, "Bf:15,128") {
		t.Fatalf("status = %q, want empty buffer", got)
	}
}

func TestRxBufferOverflowDropsBytes(t *testing.T) {
	d := New()
	defer d.Close()
	r := bufio.NewReader(d)
	readLine(t, r)

	// flood past the buffer: the excess is dropped, realtime bytes
	// still get through
	d.Write([]byte(strings.Repeat("G", 200)))
	d.Write([]byte("?"))
	if got := readLine(t, r); !strings.Contains(got, "Bf:15,0") {
		t.Fatalf("status = %q, want full buffer", got)
	}
}

func TestParserStateQuery(t *testing.T) {
	d := New()
	defer d.Close()
	r := bufio.NewReader(d)
	readLine(t, r)

	d.Write([]byte("$G\n"))
	if got := readLine(t, r); !strings.HasPrefix(got, "[GC:") {
		t.Fatalf("reply = %q", got)
	}
	if got := readLine(t, r); got != "ok" {
		t.Fatalf("trailing reply = %q", got)
	}
}

func TestFeedOverrideReflectedInStatus(t *testing.T) {
	d := New()
	defer d.Close()
	r := bufio.NewReader(d)
	readLine(t, r)

	d.Write([]byte{0x91}) // +10%
	d.Write([]byte("?"))
	if got := readLine(t, r); !strings.Contains(got, "Ov:110,100,100") {
		t.Fatalf("status = %q", got)
	}
}

func TestSoftResetEmitsBanner(t *testing.T) {
	d := New()
	defer d.Close()
	r := bufio.NewReader(d)
	readLine(t, r)

	d.Write([]byte{0x18})
	readLine(t, r) // blank line before the banner
	if got := readLine(t, r); !strings.HasPrefix(got, "Grbl 1.1") {
		t.Fatalf("post-reset line = %q", got)
	}
}

func TestInvalidGcodeRejected(t *testing.T) {
	d := New()
	defer d.Close()
	r := bufio.NewReader(d)
	readLine(t, r)

	d.Write([]byte("$NOPE\n"))
	if got := readLine(t, r); got != "error:3" {
		t.Fatalf("reply = %q", got)
	}
}
