// Command localxplore is an interactive terminal front-end for the
// LocalXplore assistant core: streamed text chat with travel tool calls,
// grounded place exploration, and a live voice conversation over the
// microphone and speakers.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/localxplore/localxplore/internal/dotenv"
	"github.com/localxplore/localxplore/pkg/core/audio"
	"github.com/localxplore/localxplore/pkg/core/chat"
	"github.com/localxplore/localxplore/pkg/core/explore"
	"github.com/localxplore/localxplore/pkg/core/live"
	"github.com/localxplore/localxplore/pkg/gemini"
	"github.com/localxplore/localxplore/pkg/travel"
)

const (
	defaultChatModel = "gemini-2.5-flash"
	defaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultVoice     = "Zephyr"
	defaultTimeout   = 90 * time.Second
)

type appConfig struct {
	APIKey    string
	ChatModel string
	LiveModel string
	Voice     string
	Timeout   time.Duration
	Location  *travel.Location
	Verbose   bool
}

func parseAppConfig(args []string, getenv func(string) string) (appConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := appConfig{}
	var lat, lng float64
	fs := flag.NewFlagSet("localxplore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ChatModel, "chat-model", defaultChatModel, "model for text chat and explore queries")
	fs.StringVar(&cfg.LiveModel, "live-model", defaultLiveModel, "model for live voice conversations")
	fs.StringVar(&cfg.Voice, "voice", defaultVoice, "prebuilt voice for live audio")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "per-turn timeout (e.g. 90s)")
	fs.Float64Var(&lat, "lat", math.NaN(), "latitude for location-biased exploration")
	fs.Float64Var(&lng, "lng", math.NaN(), "longitude for location-biased exploration")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}

	cfg.APIKey = strings.TrimSpace(getenv("GEMINI_API_KEY"))
	if cfg.APIKey == "" {
		cfg.APIKey = strings.TrimSpace(getenv("GOOGLE_API_KEY"))
	}

	switch {
	case math.IsNaN(lat) != math.IsNaN(lng):
		return appConfig{}, errors.New("-lat and -lng must be set together")
	case !math.IsNaN(lat):
		cfg.Location = &travel.Location{Latitude: lat, Longitude: lng}
	}

	if err := validateAppConfig(cfg); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func validateAppConfig(cfg appConfig) error {
	if cfg.APIKey == "" {
		return errors.New("GEMINI_API_KEY (or GOOGLE_API_KEY) is required")
	}
	if strings.TrimSpace(cfg.ChatModel) == "" {
		return errors.New("chat-model must not be empty")
	}
	if strings.TrimSpace(cfg.LiveModel) == "" {
		return errors.New("live-model must not be empty")
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		return errors.New("voice must not be empty")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if loc := cfg.Location; loc != nil {
		if loc.Latitude < -90 || loc.Latitude > 90 {
			return fmt.Errorf("latitude %v out of range [-90, 90]", loc.Latitude)
		}
		if loc.Longitude < -180 || loc.Longitude > 180 {
			return fmt.Errorf("longitude %v out of range [-180, 180]", loc.Longitude)
		}
	}
	return nil
}

// parseLocateArgs handles "/locate <lat> <lng>" and "/locate off".
func parseLocateArgs(rest string) (*travel.Location, bool, error) {
	rest = strings.TrimSpace(rest)
	if rest == "off" {
		return nil, true, nil
	}
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return nil, false, errors.New("usage: /locate <lat> <lng> or /locate off")
	}
	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, false, fmt.Errorf("invalid latitude %q", fields[0])
	}
	lng, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, false, fmt.Errorf("invalid longitude %q", fields[1])
	}
	return &travel.Location{Latitude: lat, Longitude: lng}, true, nil
}

func formatCitations(citations []explore.Citation) []string {
	lines := make([]string, 0, len(citations))
	for _, c := range citations {
		switch {
		case c.Web != nil:
			lines = append(lines, fmt.Sprintf("web:  %s (%s)", c.Web.Title, c.Web.URI))
		case c.Maps != nil:
			lines = append(lines, fmt.Sprintf("maps: %s (%s)", c.Maps.Title, c.Maps.URI))
			for _, snippet := range c.Maps.ReviewSnippets {
				lines = append(lines, fmt.Sprintf("      review: %s", snippet))
			}
		}
	}
	return lines
}

// tripLibrary is the in-memory application store behind the orchestrator's
// collaborators. A real front-end would persist these.
type tripLibrary struct {
	mu          sync.Mutex
	bookings    []travel.GuideBooking
	itineraries []travel.Itinerary
}

func (l *tripLibrary) addBooking(b travel.GuideBooking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bookings = append(l.bookings, b)
}

func (l *tripLibrary) addItinerary(it travel.Itinerary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.itineraries = append(l.itineraries, it)
}

func (l *tripLibrary) snapshot() ([]travel.GuideBooking, []travel.Itinerary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]travel.GuideBooking(nil), l.bookings...),
		append([]travel.Itinerary(nil), l.itineraries...)
}

func newLogger(errOut io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: errOut}).
		Level(level).
		With().Timestamp().Logger()
}

func runAssistant(ctx context.Context, cfg appConfig, in io.Reader, out io.Writer, errOut io.Writer) error {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	logger := newLogger(errOut, cfg.Verbose)
	client := gemini.NewClient(cfg.APIKey, gemini.WithLogger(logger))

	library := &tripLibrary{}
	orch := chat.New(gemini.NewChatService(client), chat.Config{
		Model:  cfg.ChatModel,
		Logger: logger,
		Collaborators: chat.Collaborators{
			BookGuide:    library.addBooking,
			AddItinerary: library.addItinerary,
			Notify: func(message string) {
				fmt.Fprintf(out, "[notice] %s\n", message)
			},
			OnAsyncError: func(err error) {
				fmt.Fprintf(errOut, "tool dispatch error: %v\n", err)
			},
		},
	})
	if err := orch.Initialize(ctx, nil); err != nil {
		return err
	}

	explorer := explore.NewService(gemini.NewGroundedService(client), cfg.ChatModel, logger)
	liveTransport := gemini.NewLiveService(client)

	location := cfg.Location

	fmt.Fprintf(out, "LocalXplore assistant ready (%s)\n", cfg.ChatModel)
	fmt.Fprintln(out, "Commands: /explore <prompt>, /locate <lat> <lng>, /live, /pay, /history, /exit")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/exit" || line == "/quit":
			fmt.Fprintln(out, "bye")
			return nil

		case line == "/history":
			for _, turn := range orch.Turns() {
				fmt.Fprintf(out, "[%s] %s\n", turn.Role, turn.Text())
			}
			bookings, itineraries := library.snapshot()
			fmt.Fprintf(out, "%d booking(s), %d itinerar(y/ies), %d awaiting payment\n",
				len(bookings), len(itineraries), orch.PendingBookings())

		case line == "/pay":
			payCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			err := orch.PaymentSucceeded(payCtx)
			cancel()
			if err != nil {
				fmt.Fprintf(errOut, "payment error: %v\n", err)
			}

		case strings.HasPrefix(line, "/locate"):
			loc, ok, err := parseLocateArgs(strings.TrimPrefix(line, "/locate"))
			if err != nil {
				fmt.Fprintf(errOut, "%v\n", err)
				continue
			}
			if ok && loc == nil {
				location = nil
				fmt.Fprintln(out, "location bias cleared")
				continue
			}
			location = loc
			fmt.Fprintf(out, "location bias set to %.4f, %.4f\n", loc.Latitude, loc.Longitude)

		case strings.HasPrefix(line, "/explore"):
			prompt := strings.TrimSpace(strings.TrimPrefix(line, "/explore"))
			queryCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			ans, err := explorer.Query(queryCtx, prompt, location)
			cancel()
			if err != nil {
				fmt.Fprintf(errOut, "explore error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, ans.Text)
			for _, citation := range formatCitations(ans.Citations) {
				fmt.Fprintf(out, "  %s\n", citation)
			}

		case line == "/live":
			if err := runLiveConversation(ctx, scanner, cfg, liveTransport, logger, out, errOut); err != nil {
				if errors.Is(err, errQuitRequested) {
					return nil
				}
				fmt.Fprintf(errOut, "live error: %v\n", err)
			}

		case strings.HasPrefix(line, "/"):
			fmt.Fprintln(out, "commands: /explore <prompt>, /locate <lat> <lng>, /live, /pay, /history, /exit")

		default:
			turnCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			err := orch.Send(turnCtx, line, chat.SendCallbacks{
				OnStream: func(fragment string, isToolCall bool) {
					if isToolCall {
						fmt.Fprintf(out, "\n[tool] %s\n", fragment)
						return
					}
					fmt.Fprint(out, fragment)
				},
			})
			cancel()
			fmt.Fprintln(out)
			if err != nil {
				fmt.Fprintf(errOut, "chat error: %v\n", err)
			}
		}
	}
}

var errQuitRequested = errors.New("quit requested")

// runLiveConversation runs one voice session: ffmpeg microphone capture in,
// scheduled ffplay playback out, transcripts printed as they arrive. It
// returns when the user leaves live mode or the session dies.
func runLiveConversation(
	ctx context.Context,
	scanner *bufio.Scanner,
	cfg appConfig,
	transport live.Transport,
	logger zerolog.Logger,
	out io.Writer,
	errOut io.Writer,
) error {
	speaker, err := newSpeakerOutput(audio.PlaybackConfig())
	if err != nil {
		return err
	}
	defer speaker.Close()

	scheduler := audio.NewScheduler(speaker, logger)

	var modelSpoke bool
	var printMu sync.Mutex
	session := live.NewSession(transport, newMicProvider(), scheduler, live.Config{
		Model:  cfg.LiveModel,
		Voice:  cfg.Voice,
		Logger: logger,
		Callbacks: live.Callbacks{
			OnTranscription: func(text string, fromUser bool, turnComplete bool) {
				printMu.Lock()
				defer printMu.Unlock()
				switch {
				case turnComplete:
					if modelSpoke {
						fmt.Fprintln(out)
						modelSpoke = false
					}
				case fromUser:
					fmt.Fprintf(out, "\n[you] %s\n", strings.TrimSpace(text))
				default:
					fmt.Fprint(out, text)
					modelSpoke = true
				}
			},
			OnError: func(err error) {
				fmt.Fprintf(errOut, "\nlive session error: %v\n", err)
			},
			OnClose: func() {
				fmt.Fprintln(out, "\nlive session closed")
			},
		},
	})

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Stop()

	fmt.Fprintf(out, "Live voice connected using %s (%s voice)\n", cfg.LiveModel, cfg.Voice)
	fmt.Fprintln(out, "Speak freely. /stop returns to text chat, /exit quits.")

	for {
		fmt.Fprint(out, "(live)> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read live command: %w", err)
			}
			return nil
		}

		switch strings.TrimSpace(scanner.Text()) {
		case "":
			continue
		case "/stop", "/text":
			fmt.Fprintln(out, "returning to text chat")
			return nil
		case "/exit", "/quit":
			return errQuitRequested
		default:
			fmt.Fprintln(out, "live commands: /stop, /exit")
		}
	}
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "localxplore: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseAppConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "localxplore: %v\n", err)
		os.Exit(1)
	}

	if err := runAssistant(context.Background(), cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "localxplore: %v\n", err)
		os.Exit(1)
	}
}
