package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deskshare/pkg/blockstream"
)

type probeOptions struct {
	addr     string
	room     string
	width    int
	height   int
	block    int
	frames   int
	changed  int
	interval time.Duration
}

func probeCmd() *cobra.Command {
	opts := probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send a synthetic capture session to a server",
		Long: `Connect to a block-stream listener as a presenter and send a capture
session: CaptureStart, a full keyframe screen, then delta blocks and
pointer moves, then CaptureEnd.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := (&net.Dialer{Timeout: 5 * time.Second}).DialContext(ctx, "tcp", opts.addr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", opts.addr, err)
			}
			defer conn.Close()

			sent, err := runProbe(ctx, conn, opts)
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d frames to %s room %q\n", sent, opts.addr, opts.room)
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", fmt.Sprintf("localhost:%d", blockstream.DefaultPort), "Server address")
	cmd.Flags().StringVarP(&opts.room, "room", "r", "probe", "Room id")
	cmd.Flags().IntVar(&opts.width, "width", 800, "Screen width")
	cmd.Flags().IntVar(&opts.height, "height", 600, "Screen height")
	cmd.Flags().IntVar(&opts.block, "block", 64, "Block edge size")
	cmd.Flags().IntVarP(&opts.frames, "frames", "n", 10, "Delta frames to send after the keyframe screen")
	cmd.Flags().IntVar(&opts.changed, "changed", 4, "Blocks changed per delta frame")
	cmd.Flags().DurationVar(&opts.interval, "interval", 100*time.Millisecond, "Delay between delta frames")

	return cmd
}

// runProbe writes one capture session to w and returns the number of frames
// written.
func runProbe(ctx context.Context, w io.Writer, opts probeOptions) (int, error) {
	enc := blockstream.NewEncoder(w)
	seq := uint32(0)
	sent := 0
	next := func() uint32 {
		seq++
		sent++
		return seq
	}

	start := blockstream.CaptureStart{
		Room:      opts.room,
		Sequence:  next(),
		ScreenDim: blockstream.Dimension{Width: int32(opts.width), Height: int32(opts.height)},
		BlockDim:  blockstream.Dimension{Width: int32(opts.block), Height: int32(opts.block)},
	}
	count := start.BlockCount()
	if count == 0 || count > blockstream.MAX_BLOCKS {
		return 0, fmt.Errorf("invalid grid %dx%d with block %d", opts.width, opts.height, opts.block)
	}
	if err := enc.WriteCaptureStart(start); err != nil {
		return 0, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	keyframes := make([]blockstream.Block, count)
	for i := range keyframes {
		keyframes[i] = blockstream.Block{Index: uint16(i), KeyFrame: true, Data: randomTile(rng, 64)}
	}
	if err := enc.WriteCaptureUpdate(opts.room, next(), keyframes); err != nil {
		return sent, err
	}

	for f := 0; f < opts.frames; f++ {
		if opts.interval > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(opts.interval):
			}
		}

		changed := min(max(opts.changed, 1), count)
		blocks := make([]blockstream.Block, 0, changed)
		for _, i := range rng.Perm(count)[:changed] {
			blocks = append(blocks, blockstream.Block{Index: uint16(i), Data: randomTile(rng, 16)})
		}
		if err := enc.WriteCaptureUpdate(opts.room, next(), blocks); err != nil {
			return sent, err
		}

		mouse := blockstream.MouseLocation{
			Room:     opts.room,
			Sequence: next(),
			X:        int32(rng.Intn(opts.width)),
			Y:        int32(rng.Intn(opts.height)),
		}
		if err := enc.WriteMouseLocation(mouse); err != nil {
			return sent, err
		}
	}

	if err := enc.WriteCaptureEnd(blockstream.CaptureEnd{Room: opts.room, Sequence: next()}); err != nil {
		return sent, err
	}
	return sent, nil
}

// randomTile returns printable filler so tile data never contains the frame
// delimiter.
func randomTile(rng *rand.Rand, n int) []byte {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return b
}
