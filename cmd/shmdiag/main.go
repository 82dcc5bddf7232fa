// Command shmdiag is an interactive diagnostic tool for exercising this
// module's dispatcher, timer, shmbus, and mediaring subsystems without
// writing a Go program: a small noun/verb CLI covering every subsystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/papanda1234/fjdispatchlite/dispatcher"
	"github.com/papanda1234/fjdispatchlite/internal/handleid"
	"github.com/papanda1234/fjdispatchlite/internal/xlog"
	"github.com/papanda1234/fjdispatchlite/mediaring"
	"github.com/papanda1234/fjdispatchlite/shmbus"
	"github.com/papanda1234/fjdispatchlite/timer"
	"github.com/papanda1234/fjdispatchlite/unit"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	xlog.SetupText("info")

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "dispatch":
		err = runDispatch(args)
	case "timer":
		err = runTimer(args)
	case "ring":
		err = runRing(args)
	case "bus":
		err = runBus(args)
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "shmdiag:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: shmdiag <dispatch|timer|ring|bus> [flags]

  dispatch -n 100          post N sequential messages to one unit, wait for all results
  timer -interval 200 -count 5   arm a timer and print each fire
  ring -name diag -count 8 -size 1024   write and read one frame through a media ring
  bus -name diag            attach twice, notify once, print delivery count`)
}

func runDispatch(args []string) error {
	fs := flag.NewFlagSet("dispatch", flag.ExitOnError)
	n := fs.Int("n", 10, "number of messages to post")
	fs.Parse(args)

	d := dispatcher.New(dispatcher.DefaultConfig())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.Close(ctx)
	}()

	handles := make([]handleid.Handle, *n)
	for i := 0; i < *n; i++ {
		i := i
		h, err := d.PostMessage(1, func(payload []byte) int { return i }, 0, nil, true, "shmdiag", 0)
		if err != nil {
			return err
		}
		handles[i] = h
	}
	for i, h := range handles {
		v, ok := d.WaitResult(h, 2000)
		fmt.Printf("post[%d] handle=%d result=%d ok=%v\n", i, h, v, ok)
	}
	return nil
}

func runTimer(args []string) error {
	fs := flag.NewFlagSet("timer", flag.ExitOnError)
	intervalMS := fs.Int64("interval", 200, "fire interval in milliseconds")
	count := fs.Int("count", 5, "number of fires before stopping")
	fs.Parse(args)

	d := dispatcher.New(dispatcher.DefaultConfig())
	tm := timer.New(d)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		tm.Close(ctx)
		d.Close(ctx)
	}()

	fired := make(chan int64, *count)
	var fireCount int32
	_, err := tm.CreateTimer(1, func(handle handleid.Handle, nowMS int64) int {
		select {
		case fired <- nowMS:
		default:
		}
		fireCount++
		if int(fireCount) >= *count {
			return -1
		}
		return 0
	}, *intervalMS, "shmdiag", 0)
	if err != nil {
		return err
	}

	for i := 0; i < *count; i++ {
		select {
		case ts := <-fired:
			fmt.Printf("fire[%d] at %dms\n", i, ts)
		case <-time.After(time.Duration(*intervalMS)*time.Millisecond*4 + time.Second):
			return fmt.Errorf("timer stalled after %d fires", i)
		}
	}
	return nil
}

func runRing(args []string) error {
	fs := flag.NewFlagSet("ring", flag.ExitOnError)
	name := fs.String("name", "shmdiag", "ring name")
	count := fs.Int("count", 8, "element count")
	size := fs.Int("size", 1024, "element size in bytes")
	fs.Parse(args)

	r, err := mediaring.Create(*name, *count, *size)
	if err != nil {
		return err
	}
	defer r.Close()

	ts := time.Now().UnixMilli()
	if _, err := r.Write([]byte("line\n"), ts, 1000); err != nil {
		return err
	}

	r.SetControl(false)
	if status, err := r.Write([]byte("dropped\n"), ts, 1000); err != nil {
		return err
	} else if status != mediaring.StatusStopped {
		return fmt.Errorf("expected write to a paused producer to report stopped, got status=%d", status)
	}
	fmt.Println("producer paused: write while stopped correctly rejected")
	r.SetControl(true)

	payload, gotTS, status, err := r.Read(1000)
	if err != nil {
		return err
	}
	if status != mediaring.StatusOK {
		return fmt.Errorf("timed out waiting for frame, status=%d", status)
	}
	fmt.Printf("read %d bytes at ts=%d: %q\n", len(payload), gotTS, payload)
	return nil
}

func runBus(args []string) error {
	fs := flag.NewFlagSet("bus", flag.ExitOnError)
	name := fs.String("name", "shmdiag", "bus segment name")
	fs.Parse(args)

	sender, err := shmbus.Attach(*name)
	if err != nil {
		return err
	}
	defer sender.Detach()

	listener, err := shmbus.Attach(*name)
	if err != nil {
		return err
	}
	defer listener.Detach()

	rec := &countingReceiver{}
	if err := listener.Listen(1, 99, rec); err != nil {
		return err
	}

	delivered, err := sender.Notify(2, 99, []byte("hello from shmdiag"))
	if err != nil {
		return err
	}
	fmt.Printf("queued %d delivery(ies)\n", delivered)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && rec.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Printf("delivered=%d from self=%d\n", rec.count(), sender.Self().PID)
	return nil
}

type countingReceiver struct {
	n int
}

func (r *countingReceiver) Update(msgID uint32, from unit.PeerID) {
	r.n++
}

func (r *countingReceiver) UpdateWithPayload(msgID uint32, from unit.PeerID, payload []byte) {
	r.n++
	fmt.Printf("payload: %q\n", payload)
}

func (r *countingReceiver) count() int { return r.n }
