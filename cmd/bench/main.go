package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/gluedoc"
	"github.com/aretw0/gluedoc/pkg/adapters/fs"
	"github.com/aretw0/gluedoc/pkg/core"
)

func main() {
	count := flag.Int("count", 1000, "Number of sessions to generate")
	edits := flag.Int("edits", 500, "Number of transactions applied to one session")
	keep := flag.Bool("keep", false, "Keep the benchmark workspace after running")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "gluedoc_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	fmt.Printf("Generating %d sessions in %s...\n", *count, benchDir)
	startGen := time.Now()

	// Direct writes simulate an existing workspace.
	var serializer fs.JSONSerializer
	for i := 0; i < *count; i++ {
		s := core.NewSession(fmt.Sprintf("session_%d", i))
		s.Tabs = core.Tabs{{Name: "Tab 1", Items: map[string]core.ViewerItem{
			"v1": core.NewViewerItem("scatter", [2]float64{0, 0}, [2]float64{4, 3}, "data1"),
		}}}
		s.Dataset["data1"] = core.DatasetInfo{"primary_owner": []any{"x", "y"}}
		data, err := serializer.Serialize(s)
		if err != nil {
			panic(err)
		}
		if err := os.WriteFile(filepath.Join(benchDir, s.ID+fs.DefaultExtension), data, 0644); err != nil {
			panic(err)
		}
	}
	fmt.Printf("Generation took: %v\n", time.Since(startGen))

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.TODO()

	service, err := gluedoc.New(benchDir,
		gluedoc.WithLogger(logger),
		gluedoc.WithAutoInit(true),
		gluedoc.WithUpdateLog("bench.db"),
	)
	if err != nil {
		panic(err)
	}

	// Run 1: Cold (populates the index)
	fmt.Println("Running List (Run 1 - Cold)...")
	startList := time.Now()
	list, err := service.List(ctx)
	if err != nil {
		panic(err)
	}
	duration := time.Since(startList)
	fmt.Printf("Run 1 Result: %v (Items: %d)\n", duration, len(list))

	fmt.Printf("Applying %d transactions to session_0...\n", *edits)
	doc, err := service.Open(ctx, "session_0")
	if err != nil {
		panic(err)
	}
	startEdits := time.Now()
	for i := 0; i < *edits; i++ {
		if err := doc.SetValue(fmt.Sprintf("k%d", i%32), i); err != nil {
			panic(err)
		}
	}
	editDuration := time.Since(startEdits)
	if err := service.Shutdown(ctx); err != nil {
		panic(err)
	}

	// Run 2: Warm, from a new service to exercise the persisted index (.gluedoc/index.json).
	service2, err := gluedoc.New(benchDir, gluedoc.WithLogger(logger), gluedoc.WithUpdateLog("bench.db"))
	if err != nil {
		panic(err)
	}
	defer service2.Shutdown(ctx)

	fmt.Println("Running List (Run 2 - Warm)...")
	startList2 := time.Now()
	list2, err := service2.List(ctx)
	if err != nil {
		panic(err)
	}
	duration2 := time.Since(startList2)
	fmt.Printf("Run 2 Result: %v (Items: %d)\n", duration2, len(list2))

	startReplay := time.Now()
	if _, err := service2.Open(ctx, "session_0"); err != nil {
		panic(err)
	}
	replayDuration := time.Since(startReplay)

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d sessions, %d edits):\n", *count, *edits)
	fmt.Printf("  Cold list: %v\n", duration)
	fmt.Printf("  Warm list: %v\n", duration2)
	fmt.Printf("  Edits:     %v (%v/tx)\n", editDuration, editDuration/time.Duration(max(*edits, 1)))
	fmt.Printf("  Replay:    %v\n", replayDuration)
	fmt.Printf("--------------------------------------------------\n")
}
