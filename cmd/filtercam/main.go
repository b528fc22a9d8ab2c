package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nasa-jpl/filtercam/camera"
	"github.com/nasa-jpl/filtercam/display"
	"github.com/nasa-jpl/filtercam/filterseq"
	"github.com/nasa-jpl/filtercam/generichttp"
	"github.com/nasa-jpl/filtercam/generichttp/capture"
	wheelhttp "github.com/nasa-jpl/filtercam/generichttp/wheel"
	"github.com/nasa-jpl/filtercam/imgrec"
	"github.com/nasa-jpl/filtercam/orchestrator"
	"github.com/nasa-jpl/filtercam/server/middleware/locker"
	"github.com/nasa-jpl/filtercam/sink"
	"github.com/nasa-jpl/filtercam/thorlabs"
	"github.com/nasa-jpl/filtercam/wheel"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "filtercam.yml"
	k              = koanf.New(".")
)

type cameraConf struct {
	// Width and Height are the simulated sensor size in pixels
	Width  int `yaml:"Width" koanf:"Width"`
	Height int `yaml:"Height" koanf:"Height"`

	// ReadoutMs is the simulated readout time
	ReadoutMs float64 `yaml:"ReadoutMs" koanf:"ReadoutMs"`
}

type wheelConf struct {
	// Type is sim or fw102c
	Type string `yaml:"Type" koanf:"Type"`

	// Addr is a serial port or host:port
	Addr   string `yaml:"Addr" koanf:"Addr"`
	Serial bool   `yaml:"Serial" koanf:"Serial"`

	// Slots maps filter names to 1-based wheel slots
	Slots map[string]int `yaml:"Slots" koanf:"Slots"`

	// SlotMs is the simulated time to move one slot
	SlotMs float64 `yaml:"SlotMs" koanf:"SlotMs"`
}

type recorderConf struct {
	// Root is the root folder to write to
	Root string `yaml:"Root" koanf:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix" koanf:"Prefix"`

	// PadWidth is the maximum zero padding of frame numbers
	PadWidth int `yaml:"PadWidth" koanf:"PadWidth"`
}

type config struct {
	Addr               string           `yaml:"Addr" koanf:"Addr"`
	Root               string           `yaml:"Root" koanf:"Root"`
	Mock               bool             `yaml:"Mock" koanf:"Mock"`
	Camera             cameraConf       `yaml:"Camera" koanf:"Camera"`
	Wheel              wheelConf        `yaml:"Wheel" koanf:"Wheel"`
	Recorder           recorderConf     `yaml:"Recorder" koanf:"Recorder"`
	FlashMs            float64          `yaml:"FlashMs" koanf:"FlashMs"`
	AllowPartialCycles bool             `yaml:"AllowPartialCycles" koanf:"AllowPartialCycles"`
	AcceptRenamedFiles bool             `yaml:"AcceptRenamedFiles" koanf:"AcceptRenamedFiles"`
	Steps              []filterseq.Step `yaml:"Steps" koanf:"Steps"`
}

func ms(f float64) time.Duration {
	return time.Duration(f * float64(time.Millisecond))
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr: ":8000",
		Root: "/",
		Mock: true,
		Camera: cameraConf{
			Width:     512,
			Height:    512,
			ReadoutMs: 50},
		Wheel: wheelConf{
			Type:   "sim",
			Addr:   "/dev/ttyUSB0",
			Serial: true,
			Slots:  map[string]int{"Red": 1, "Green": 2, "Blue": 3, "Ha": 4, "OIII": 5, "SII": 6},
			SlotMs: 400},
		Recorder: recorderConf{
			Root:     ".",
			Prefix:   "frame",
			PadWidth: 4},
		FlashMs:            250,
		AllowPartialCycles: true,
		AcceptRenamedFiles: true,
		Steps: []filterseq.Step{
			{Filter: "Red", ExposureMs: 100, Repeat: 1},
			{Filter: "Green", ExposureMs: 100, Repeat: 1},
			{Filter: "Blue", ExposureMs: 150, Repeat: 1}},
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `filtercam cycles a camera through a sequence of filters on a filter wheel,
displaying every frame and optionally saving a fixed number of them as FITS files.

Usage:
	filtercam <command>

Commands:
	run
	acquire <frames>
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `filtercam is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

run serves the capture engine over HTTP.  POST /preview starts preview mode,
POST /save with {"int": N} saves N frames, and POST /stop halts either.
Starting one mode while the other runs switches modes; GET /indicator is
true while the switch is pending.  GET /endpoints lists every route.

While run is serving, edits to the Steps list in the config file are picked
up automatically and apply to the next run.  Over HTTP there is nobody to ask,
so AllowPartialCycles and AcceptRenamedFiles answer the questions asked before
a save run starts.

acquire N saves N frames from the terminal, asking those questions on stdin.
Ctrl-C stops the run; frames already saved are kept.

Wheel.Type sim simulates a wheel holding the filters in Slots.  fw102c drives
a Thorlabs FW102C or FW212C at Wheel.Addr.  Mock forces the simulated wheel.
The camera is always simulated.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("filtercam version %v\n", Version)
}

// bySlot returns the names in slots ordered by slot number
func bySlot(slots map[string]int) []string {
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return slots[names[i]] < slots[names[j]] })
	return names
}

type rig struct {
	cam   *camera.Sim
	whl   wheel.Wheel
	seq   *filterseq.Sequence
	board *display.Board
	sink  *sink.Sink
	orch  *orchestrator.Orchestrator
}

// build makes the hardware and the capture engine.  partial and rename
// answer the questions asked before a save run
func build(cfg config, partial, rename sink.Confirmer) (*rig, error) {
	seq, err := filterseq.New(cfg.Steps)
	if err != nil {
		return nil, err
	}
	cam := camera.NewSim(cfg.Camera.Width, cfg.Camera.Height, ms(cfg.Camera.ReadoutMs))

	var whl wheel.Wheel
	typ := strings.ToLower(cfg.Wheel.Type)
	if cfg.Mock {
		typ = "sim"
	}
	switch typ {
	case "sim", "":
		whl = wheel.NewSim(bySlot(cfg.Wheel.Slots), ms(cfg.Wheel.SlotMs))
	case "fw102c", "fw212c", "thorlabs":
		fw := thorlabs.NewFW102C(cfg.Wheel.Addr, cfg.Wheel.Serial, cfg.Wheel.Slots)
		n, err := fw.SlotCount()
		if err != nil {
			return nil, fmt.Errorf("connecting to filter wheel: %w", err)
		}
		log.Printf("connected to a %d slot filter wheel at %s\n", n, cfg.Wheel.Addr)
		whl = fw
	default:
		return nil, fmt.Errorf("wheel type %q not understood", cfg.Wheel.Type)
	}

	board := display.NewBoard()
	rec := imgrec.New(cfg.Recorder.Root, cfg.Recorder.Prefix)
	s := sink.New(rec, board, rename, display.Full, display.Thumb)
	o := orchestrator.New(cam, whl, s, seq)
	o.Confirmer = partial
	o.PadWidth = cfg.Recorder.PadWidth
	o.FlashInterval = ms(cfg.FlashMs)
	return &rig{cam: cam, whl: whl, seq: seq, board: board, sink: s, orch: o}, nil
}

// policy answers every question with a fixed value and logs it
func policy(answer bool) sink.Confirmer {
	return sink.ConfirmFunc(func(prompt string) bool {
		log.Printf("%s (answered %v by config)\n", prompt, answer)
		return answer
	})
}

// watchSteps reloads the Steps list into seq when the config file changes
func watchSteps(seq *filterseq.Sequence) {
	fp := file.Provider(ConfigFileName)
	err := fp.Watch(func(event interface{}, err error) {
		if err != nil {
			log.Printf("watching %s: %v\n", ConfigFileName, err)
			return
		}
		kk := koanf.New(".")
		if err := kk.Load(fp, yaml.Parser()); err != nil {
			log.Printf("reloading %s: %v\n", ConfigFileName, err)
			return
		}
		steps := []filterseq.Step{}
		if err := kk.Unmarshal("Steps", &steps); err != nil {
			log.Printf("reloading %s: %v\n", ConfigFileName, err)
			return
		}
		if err := seq.Set(steps); err != nil {
			log.Printf("filter sequence in %s rejected: %v\n", ConfigFileName, err)
			return
		}
		log.Printf("filter sequence reloaded, %d steps\n", len(steps))
	})
	if err != nil {
		log.Printf("not watching %s for changes: %v\n", ConfigFileName, err)
	}
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)
	rg, err := build(cfg, policy(cfg.AllowPartialCycles), policy(cfg.AcceptRenamedFiles))
	if err != nil {
		log.Fatal(err)
	}
	watchSteps(rg.seq)

	capt := capture.NewHTTPCapture(rg.orch, rg.seq, rg.board)
	wh := wheelhttp.NewHTTPWheel(rg.whl, rg.orch, rg.orch.Wheel)
	if l, ok := rg.whl.(wheelhttp.Lister); ok {
		wheelhttp.HTTPList(l, wh.RT())
	}
	lock := locker.New()
	lock.Busy = func() bool { return rg.orch.State() != orchestrator.Idle }
	locker.Inject(wh, lock)

	hndlS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := chi.NewRouter()
	capt.RT().Bind(mux)
	wmux := chi.NewRouter()
	wmux.Use(lock.Check)
	wh.RT().Bind(wmux)
	mux.Mount("/wheel", wmux)
	wstem := strings.TrimSuffix(hndlS, "/") + "/wheel"
	graph := map[string][]string{
		hndlS: capt.RT().Endpoints(),
		wstem: wh.RT().Endpoints(),
	}
	mux.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(graph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Mount(hndlS, mux)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		rg.orch.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rg.orch.Wait(ctx)
		os.Exit(0)
	}()

	log.Println("now listening for requests at ", cfg.Addr+hndlS)
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}

// stdinConfirmer asks questions on the terminal
type stdinConfirmer struct {
	sc *bufio.Scanner
}

func (s stdinConfirmer) Confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	if !s.sc.Scan() {
		return false
	}
	ans := strings.ToLower(strings.TrimSpace(s.sc.Text()))
	return ans == "y" || ans == "yes"
}

func acquire(args []string) {
	if len(args) != 1 {
		log.Fatal("usage: filtercam acquire <frames>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("frame count %q is not an integer", args[0])
	}
	cfg := config{}
	k.Unmarshal("", &cfg)
	ask := stdinConfirmer{sc: bufio.NewScanner(os.Stdin)}
	rg, err := build(cfg, ask, ask)
	if err != nil {
		log.Fatal(err)
	}
	rg.orch.Status.Log = false
	err = rg.orch.StartSave(n)
	if err != nil {
		log.Fatal(err)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           "starting",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		rg.orch.Stop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		rg.orch.Wait(ctx)
		cancel()
	}()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			rep, _ := rg.orch.LastReport()
			if rep.Completed {
				spinner.StopMessage(rep.String())
				spinner.Stop()
				return
			}
			spinner.StopFailMessage(rep.String())
			spinner.StopFail()
			os.Exit(1)
		case <-tick.C:
			spinner.Message(rg.orch.Status.String())
		}
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "acquire":
		acquire(args[2:])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
