package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leorm1110/music-mixer-ai/internal/studio"
)

const consoleHelp = `commands:
  upload <file>        separate a song and load its stems
  play                 toggle play/pause
  stop                 stop and rewind
  seek <seconds>       jump to a position
  vol <track> <0..1>   set track volume
  mute <track>         toggle mute
  solo [track]         toggle solo, or clear it
  remove <track>       drop a track from the mix
  export [file]        download the server mixdown
  status               show the mixer
  quit                 exit`

var errQuit = errors.New("quit")

type console struct {
	studio     *studio.Studio
	exportDir  string
	exportName string
	out        io.Writer
}

// run reads commands until quit, EOF or ctx ends.
func (c *console) run(ctx context.Context, cancel context.CancelFunc) {
	names := func(string) []string { return c.studio.TrackNames() }
	rl, err := readline.NewEx(&readline.Config{
		Prompt: "stemmix> ",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("upload"),
			readline.PcItem("play"),
			readline.PcItem("stop"),
			readline.PcItem("seek"),
			readline.PcItem("vol", readline.PcItemDynamic(names)),
			readline.PcItem("mute", readline.PcItemDynamic(names)),
			readline.PcItem("solo", readline.PcItemDynamic(names)),
			readline.PcItem("remove", readline.PcItemDynamic(names)),
			readline.PcItem("export"),
			readline.PcItem("status"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		log.Printf("Console unavailable: %v", err)
		return
	}
	defer rl.Close()
	c.out = rl.Stdout()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) && line != "" {
				continue
			}
			cancel()
			return
		}
		if err := c.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				cancel()
				return
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// exec runs one console command.
func (c *console) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	switch cmd := args[0]; cmd {
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "quit", "exit":
		return errQuit

	case "upload":
		if len(args) < 2 {
			return fmt.Errorf("usage: upload <file>")
		}
		fmt.Fprintln(c.out, "separating, this can take a while...")
		if _, err := c.studio.Upload(ctx, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		c.printStatus()

	case "play":
		playing, err := c.studio.TogglePlayback()
		if playing {
			fmt.Fprintln(c.out, "playing")
		} else if err == nil {
			fmt.Fprintln(c.out, "paused")
		}
		return err
	case "stop":
		return c.studio.Stop()
	case "seek":
		if len(args) != 2 {
			return fmt.Errorf("usage: seek <seconds>")
		}
		sec, err := strconv.ParseFloat(args[1], 64)
		if err != nil || sec < 0 {
			return fmt.Errorf("invalid position %q", args[1])
		}
		return c.studio.Seek(sec)

	case "vol":
		if len(args) != 3 {
			return fmt.Errorf("usage: vol <track> <0..1>")
		}
		v, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid volume %q", args[2])
		}
		return c.studio.SetVolume(args[1], v)
	case "mute":
		if len(args) != 2 {
			return fmt.Errorf("usage: mute <track>")
		}
		muted, err := c.studio.ToggleMute(args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s muted=%v\n", args[1], muted)
	case "solo":
		if len(args) == 1 {
			if err := c.studio.ClearSolo(); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "solo cleared")
			return nil
		}
		if len(args) != 2 {
			return fmt.Errorf("usage: solo [track]")
		}
		solo, err := c.studio.ToggleSolo(args[1])
		if err != nil {
			return err
		}
		if solo == "" {
			fmt.Fprintln(c.out, "solo cleared")
		} else {
			fmt.Fprintf(c.out, "solo %s\n", solo)
		}

	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("usage: remove <track>")
		}
		if err := c.studio.RemoveTrack(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "removed %s\n", args[1])

	case "export":
		name := c.exportName
		if len(args) > 1 {
			name = args[1]
		}
		dst, err := c.studio.ExportTo(ctx, c.exportDir, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "saved %s\n", dst)
	case "status":
		c.printStatus()

	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (c *console) printStatus() {
	st := c.studio.Status()
	if !st.Loaded {
		fmt.Fprintln(c.out, "no session loaded")
		return
	}
	state := "paused"
	if st.Playing {
		state = "playing"
	}
	fmt.Fprintf(c.out, "session %s  %s  %s / %s\n", st.SessionID, state, st.Elapsed, st.Total)
	for _, t := range st.Tracks {
		flags := ""
		if t.Master {
			flags += " master"
		}
		if t.Solo {
			flags += " solo"
		}
		if t.Muted {
			flags += " muted"
		}
		fmt.Fprintf(c.out, "  %-12s vol %.2f  gain %.2f%s\n", t.Name, t.Volume, t.Gain, flags)
	}
}
