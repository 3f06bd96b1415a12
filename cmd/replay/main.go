package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	persistlog "aicycles.ai/internal/persistence/log"
	"aicycles.ai/internal/protocol"
	"aicycles.ai/internal/world"
)

func main() {
	var (
		recPath = flag.String("recording", "", "path to match-*.jsonl.zst")
		dump    = flag.Bool("dump", false, "print the final grid")
		verbose = flag.Bool("v", false, "print every recorded message")
	)
	flag.Parse()

	if *recPath == "" {
		fmt.Fprintln(os.Stderr, "missing -recording")
		os.Exit(2)
	}
	sum, w, err := replay(*recPath, verboseWriter(*verbose))
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, *recPath, sum, w)
	if *dump {
		fmt.Print(w.Dump())
	}
}

func verboseWriter(on bool) io.Writer {
	if on {
		return os.Stdout
	}
	return io.Discard
}

type summary struct {
	Entries   int
	In, Out   int
	Malformed int
	Ticks     int
	Turns     int
	Seed      int64
	Greeting  string
	First     time.Time
	Last      time.Time
}

// replay rebuilds the arena from the inbound half of a recording, applying
// messages in the order they were received.
func replay(path string, trace io.Writer) (summary, *world.World, error) {
	var sum summary
	w := world.New()
	err := persistlog.ReadRecording(path, func(e persistlog.Entry) error {
		sum.Entries++
		if sum.First.IsZero() {
			sum.First = e.At
		}
		sum.Last = e.At
		fmt.Fprintf(trace, "%6d %-3s %03d %s\n", e.Seq, e.Dir, e.Code, e.Body)

		m, err := e.Message()
		if err != nil {
			sum.Malformed++
			return nil
		}
		if e.Dir == persistlog.DirOut {
			sum.Out++
			if _, ok := m.(protocol.Turn); ok {
				sum.Turns++
			}
			return nil
		}
		sum.In++
		switch m := m.(type) {
		case protocol.Update:
			sum.Ticks++
		case protocol.RandomSeed:
			sum.Seed = m.Seed
		case protocol.Handshake:
			sum.Greeting = m.Name
		}
		if err := w.Apply(m); err != nil {
			return fmt.Errorf("entry %d (%03d %s): %w", e.Seq, e.Code, e.Body, err)
		}
		return nil
	})
	return sum, w, err
}

func printSummary(out io.Writer, path string, sum summary, w *world.World) {
	size := "?"
	if st, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(st.Size()))
	}
	fmt.Fprintf(out, "recording %s (%s): %s entries, %d in, %d out, %d malformed, span %s\n",
		filepath.Base(path), size, humanize.Comma(int64(sum.Entries)), sum.In, sum.Out, sum.Malformed,
		sum.Last.Sub(sum.First).Round(time.Millisecond))
	if !w.Ready() {
		fmt.Fprintln(out, "no map info recorded")
		return
	}
	fmt.Fprintf(out, "arena %dx%d players=%d local=%d seed=%d ticks=%s turns=%d greeting=%q\n",
		w.Width(), w.Height(), w.Players(), w.LocalID(), sum.Seed, humanize.Comma(int64(sum.Ticks)), sum.Turns, sum.Greeting)
	deaths := w.Deaths()
	order := make(map[int]int, len(deaths))
	for i, id := range deaths {
		order[id] = i + 1
	}
	for _, c := range w.Cycles() {
		status := "alive"
		if n, ok := order[c.Player]; ok {
			status = humanize.Ordinal(n) + " out"
		} else if !c.Alive {
			status = "left"
		}
		marker := ""
		if c.Player == w.LocalID() {
			marker = " (local)"
		}
		fmt.Fprintf(out, "  player %d%s: trail=%d at (%d,%d) heading %s, %s\n", c.Player, marker, c.Trail, c.X, c.Y, c.Dir, status)
	}
}
