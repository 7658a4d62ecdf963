package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/defistate/defistate-mutator/cmd/client/config"
	"github.com/defistate/defistate-mutator/engine"
	"github.com/defistate/defistate-mutator/patcher"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/defistate/defistate-mutator/protocols/collectionregistry/indexer"
	"github.com/defistate/defistate-mutator/streams/jsonrpc/client"
	"github.com/ethereum/go-ethereum/common"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"

	DefaultClientStateBufferSize = 100
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

// SafeState is a thread-safe container for the latest state and its index.
type SafeState struct {
	mu      sync.RWMutex
	state   *engine.State
	indexed indexer.IndexedCollectionSystem
}

func (s *SafeState) Update(newState *engine.State, indexed indexer.IndexedCollectionSystem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState
	s.indexed = indexed
}

func (s *SafeState) Get() (*engine.State, indexer.IndexedCollectionSystem) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.indexed
}

func main() {
	// --- 1. SETUP LOGGING (To File) ---
	logFile, err := os.OpenFile("console.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file: %v", err))
	}
	defer logFile.Close()

	rootLogger := slog.New(slog.NewJSONHandler(logFile, nil))

	closeApp := func() {
		fmt.Println("\n" + Red + "Fatal error occurred. Check console.log for details." + Reset)
		os.Exit(1)
	}

	// --- 2. CONFIG & CONTEXT ---
	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		closeApp()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 3. INITIALIZE CLIENT ---
	statePatcher, err := patcher.NewStatePatcher(&patcher.StatePatcherConfig{})
	if err != nil {
		rootLogger.Error("Failed to initialize State Patcher", "error", err)
		closeApp()
	}

	client, err := client.NewClient(
		ctx,
		client.Config{
			URL:          cfg.StateStreamURL,
			Logger:       rootLogger.With("component", "jsonrpc-client"),
			BufferSize:   DefaultClientStateBufferSize,
			StatePatcher: statePatcher.Patch,
		},
	)
	if err != nil {
		rootLogger.Error("Failed to initialize Client", "error", err)
		closeApp()
	}

	// --- 4. START CONSOLE & STATE LOOP ---
	safeState := &SafeState{}
	idx := indexer.New()

	fmt.Println(Green + "Starting Mutator Console..." + Reset)
	fmt.Println("Logs are being written to 'console.log'")
	go runConsole(ctx, safeState)

	for {
		select {
		case n := <-client.State():
			safeState.Update(n, idx.Index(n.Registry))

		case err := <-client.Err():
			rootLogger.Error("Fatal client error", "error", err)
			closeApp()

		case <-ctx.Done():
			fmt.Println("\n" + Yellow + "Shutting down..." + Reset)
			return
		}
	}
}

// runConsole handles user input and display.
func runConsole(ctx context.Context, safeState *SafeState) {
	reader := bufio.NewReader(os.Stdin)
	time.Sleep(500 * time.Millisecond)

	for {
		if ctx.Err() != nil {
			return
		}

		printMenu()

		fmt.Print(Bold + "Enter selection: " + Reset)
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("Error reading input:", err)
			continue
		}

		handleCommand(strings.TrimSpace(input), safeState, reader)

		fmt.Println("\n" + Gray + "[Press Enter to continue]" + Reset)
		reader.ReadString('\n')
	}
}

func printMenu() {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(Bold + "MUTATOR CONSOLE" + Reset + Gray + " | v0.1.0" + Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %s1.%s Registry Status\n", Cyan, Reset)
	fmt.Printf(" %s2.%s Collection Summary\n", Cyan, Reset)
	fmt.Printf(" %s3.%s Find Collection  %s(by Address)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s4.%s Find Collection  %s(by Token ID)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s5.%s Watch Collection %s(Live Monitor)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %sh.%s Help\n", Yellow, Reset)
	fmt.Printf(" %sq.%s Quit\n", Red, Reset)
	fmt.Println("")
}

func handleCommand(input string, safeState *SafeState, reader *bufio.Reader) {
	state, indexed := safeState.Get()

	if state == nil && input != "q" && input != "h" {
		fmt.Println("\n" + Yellow + "[INFO] Waiting for first state update... (Check connection/logs)" + Reset)
		return
	}

	switch input {
	case "1":
		printStatus(state)
	case "2":
		printCollectionSummary(indexed)
	case "3":
		findCollection(indexed, reader)
	case "4":
		findCollectionByToken(indexed, reader)
	case "5":
		watchCollection(safeState, reader)
	case "h":
		printHelp()
	case "q":
		exitConsole()
	default:
		fmt.Println(Red + "Unknown command." + Reset)
	}
}

// --- COMMAND HANDLERS ---

func printHelp() {
	fmt.Print("\033[H\033[2J")

	header("REGISTRY STREAM")
	fmt.Println("The mutator burns two tokens of a registered collection and mints one")
	fmt.Println("token id drawn from that collection's " + Cyan + "pool" + Reset + ".")
	fmt.Println("")
	fmt.Println(Bold + "1. THE DATA STRUCTURE" + Reset)
	fmt.Println("   The root object is " + Cyan + "State" + Reset + ", which contains the registry:")
	fmt.Println("   - " + Yellow + "Collections" + Reset + ": pool, fee and paused flag, in registration order.")
	fmt.Println("   - " + Yellow + "TokenIndex" + Reset + ": every id ever pooled, mapped to its collection.")
	fmt.Println("   - " + Yellow + "Sequence" + Reset + ": the number of committed registry changes.")
	fmt.Println("")
	fmt.Println(Bold + "2. THE STREAM" + Reset)
	fmt.Println("   A full state is sent on subscribe, then one diff per committed change.")
	fmt.Println("   Diffs are applied only on top of the sequence they start from.")
}

func printStatus(state *engine.State) {
	ts := time.Unix(0, int64(state.Timestamp)).Format("15:04:05")

	fmt.Printf("\n%sSTATUS  ::%s Sequence %s#%d%s | Collections %s%d%s | Indexed ids %s%d%s | Time %s%s%s\n",
		Green, Reset,
		Bold, state.Sequence(), Reset,
		Bold, len(state.Registry.Collections), Reset,
		Bold, len(state.Registry.TokenIndex), Reset,
		Bold, ts, Reset,
	)
}

func printCollectionSummary(indexed indexer.IndexedCollectionSystem) {
	header("COLLECTION SUMMARY")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tPOOL\tFEE\tSTATUS\t")
	fmt.Fprintln(w, "-------\t----\t---\t------\t")

	paused := 0
	for _, c := range indexed.All() {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t\n", c.Address.Hex(), len(c.Pool), c.Fee, status(c))
		if c.Paused {
			paused++
		}
	}
	w.Flush()

	fmt.Printf("\n%sPaused collections: %d%s\n", Bold, paused, Reset)
}

func findCollection(indexed indexer.IndexedCollectionSystem, reader *bufio.Reader) {
	fmt.Print("\n" + Bold + "[Find Collection] Enter Collection Address (Hex): " + Reset)
	addr, ok := readAddress(reader)
	if !ok {
		return
	}
	c, found := indexed.GetByAddress(addr)
	if !found {
		fmt.Println(Red + "[NOT FOUND] Collection is not registered." + Reset)
		return
	}
	printCollection(c)
}

func findCollectionByToken(indexed indexer.IndexedCollectionSystem, reader *bufio.Reader) {
	fmt.Print("\n" + Bold + "[Find Collection] Enter Token ID (decimal or 0x hex): " + Reset)
	input, _ := reader.ReadString('\n')
	id, ok := new(big.Int).SetString(strings.TrimSpace(input), 0)
	if !ok {
		fmt.Println(Red + "[ERROR] Invalid token id." + Reset)
		return
	}
	c, found := indexed.CollectionForToken(id)
	if !found {
		fmt.Println(Red + "[NOT FOUND] Token id was never pooled." + Reset)
		return
	}

	pooled := false
	for _, p := range c.Pool {
		if p.Cmp(id) == 0 {
			pooled = true
			break
		}
	}
	if pooled {
		fmt.Printf("%sToken %s is still in the pool.%s\n", Green, id, Reset)
	} else {
		fmt.Printf("%sToken %s has been minted.%s\n", Yellow, id, Reset)
	}
	printCollection(c)
}

func watchCollection(safeState *SafeState, reader *bufio.Reader) {
	fmt.Print("\n" + Bold + "[Watch Collection] Enter Collection Address (Hex): " + Reset)
	addr, ok := readAddress(reader)
	if !ok {
		return
	}

	fmt.Println(Green + "Starting Live Watch... (Press 'Enter' to stop)" + Reset)
	time.Sleep(1 * time.Second)

	stopCh := make(chan struct{})
	go func() {
		reader.ReadString('\n')
		close(stopCh)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastSequence uint64
	first := true

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			state, indexed := safeState.Get()
			if state == nil {
				continue
			}
			if !first && state.Sequence() <= lastSequence {
				continue
			}
			first = false
			lastSequence = state.Sequence()

			fmt.Print("\033[H\033[2J")
			fmt.Printf(Bold+"\n--- LIVE MONITOR (Sequence: %d) ---\n"+Reset, lastSequence)
			fmt.Println(Gray + "Press ENTER to return to menu." + Reset)

			if c, found := indexed.GetByAddress(addr); found {
				printCollection(c)
			} else {
				fmt.Println(Yellow + "[INFO] Collection is not registered yet." + Reset)
			}
		}
	}
}

// --- HELPERS ---

func printCollection(c collectionregistry.Collection) {
	header("COLLECTION " + c.Address.Hex())
	fmt.Printf(" %s%-10s%s %s\n", Gray, "Status:", Reset, status(c))
	fmt.Printf(" %s%-10s%s %s\n", Gray, "Fee:", Reset, c.Fee)
	fmt.Printf(" %s%-10s%s %d\n", Gray, "Pool:", Reset, len(c.Pool))

	const maxShown = 20
	for i, id := range c.Pool {
		if i == maxShown {
			fmt.Printf("   %s... %d more%s\n", Gray, len(c.Pool)-maxShown, Reset)
			break
		}
		fmt.Printf("   [%d] %s\n", i, id)
	}
}

func status(c collectionregistry.Collection) string {
	switch {
	case c.Paused:
		return Yellow + "PAUSED" + Reset
	case len(c.Pool) == 0:
		return Red + "DRAINED" + Reset
	default:
		return Green + "ACTIVE" + Reset
	}
}

func readAddress(reader *bufio.Reader) (common.Address, bool) {
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		fmt.Println(Red + "[ERROR] Invalid address." + Reset)
		return common.Address{}, false
	}
	return common.HexToAddress(input), true
}

func exitConsole() {
	fmt.Println(Yellow + "Exiting..." + Reset)
	os.Exit(0)
}

func loadConfig() (*config.ClientConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
