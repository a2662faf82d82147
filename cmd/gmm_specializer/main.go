// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gmm_specializer lists the kernel variants registered for the selected backend, with their feasibility for a
// given problem shape, and runs a demo training on synthetic data.
//
// Examples:
//
//	gmm_specializer -capabilities -list -m 16 -d 8 -n 100000
//	GMM_BACKEND=cuda:emulate gmm_specializer -autotune -list
//	gmm_specializer -config gmm.yaml -demo -m 3 -d 2 -n 5000
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gmmspecializer/backends"
	_ "github.com/gomlx/gmmspecializer/backends/default"
	"github.com/gomlx/gmmspecializer/pkg/gmm"
	"github.com/gomlx/gmmspecializer/pkg/specializer"
	"github.com/gomlx/gmmspecializer/pkg/support/sets"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagConfig       = flag.String("config", "", "Path to a yaml configuration file. If empty, the default configuration is used.")
	flagBackend      = flag.String("backend", "", "Backend configuration \"<name>:<options>\", overrides $GMM_BACKEND and the configuration file.")
	flagAutotune     = flag.Bool("autotune", false, "Register the autotune parameter space of the backend.")
	flagMode         = flag.String("mode", "diag", "Numeric mode: \"diag\" or \"full\" covariance matrices.")
	flagList         = flag.Bool("list", false, "List the variants registered for each operation, with their feasibility for -m, -d and -n.")
	flagCapabilities = flag.Bool("capabilities", false, "Display the capability of the backend.")
	flagDemo         = flag.Bool("demo", false, "Train and evaluate a model on synthetic data of shape -n x -d, with -m clusters.")
	flagRounds       = flag.Int("rounds", 10, "Number of EM rounds of the demo.")
	flagM            = flag.Int("m", 3, "Number of components.")
	flagD            = flag.Int("d", 2, "Dimension of the events.")
	flagN            = flag.Int("n", 5000, "Number of events.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	config := specializer.DefaultConfig()
	if *flagConfig != "" {
		config = must.M1(specializer.LoadConfig(*flagConfig))
	}
	if *flagBackend != "" {
		must.M(os.Setenv(backends.ConfigEnvVar, *flagBackend))
	}
	if *flagAutotune {
		config.Autotune = true
	}
	mode := must.M1(specializer.ParseMode(*flagMode))
	ctx := must.M1(specializer.New(config))
	defer ctx.Finalize()

	if !*flagCapabilities && !*flagList && !*flagDemo {
		*flagCapabilities = true
	}
	if *flagCapabilities {
		reportCapabilities(ctx)
	}
	if *flagList {
		listVariants(ctx, mode)
	}
	if *flagDemo {
		demo(ctx, mode)
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

func reportCapabilities(ctx *specializer.Context) {
	backend := ctx.Backend()
	capability := backend.Capability()
	fmt.Println(titleStyle.Render("Backend"))
	table := newPlainTable(false)
	table.Row("name", backend.Name())
	table.Row("description", backend.Description())
	if capability.Unbounded() {
		table.Row("limits", "none")
	} else {
		table.Row("max threads per unit", humanize.Comma(int64(capability.MaxThreadsPerUnit)))
		table.Row("max shared memory per unit", humanize.IBytes(uint64(capability.MaxSharedMemBytes)))
		table.Row("device memory", humanize.IBytes(uint64(capability.TotalDeviceMemBytes)))
	}
	for _, name := range sets.Sorted(sets.FromKeys(capability.Flags)) {
		value, _ := capability.Flag(name)
		table.Row(name, value)
	}
	total, implemented := ctx.Registry().NumVariants()
	table.Row("# variants", humanize.Comma(int64(total)))
	table.Row("# implemented", humanize.Comma(int64(implemented)))
	fmt.Println(table.Render())
}

func listVariants(ctx *specializer.Context, mode backends.Mode) {
	args := backends.CallArgs{M: *flagM, D: *flagD, N: *flagN}
	backendName := ctx.Backend().Name()
	fmt.Println(titleStyle.Render(fmt.Sprintf("Variants for %s", args)))
	table := newPlainTable(true)
	table.Row("#", "Variant", "Implemented", "Run feasible", "Selected")
	must.M(ctx.Do(func() error {
		for _, op := range backends.Operations() {
			key := backends.Key(op, mode)
			selectedID := ""
			if selected, err := ctx.Dispatch(key, args); err == nil {
				selectedID = selected.ID
			} else {
				klog.V(1).Infof("%s: %v", key, err)
			}
			for _, record := range ctx.Registry().Variants(key, backendName) {
				table.Row(strconv.Itoa(record.Index), record.ID, yesNo(record.Implemented),
					yesNo(record.RunCheck(args)), yesNo(record.ID == selectedID))
			}
		}
		return nil
	}))
	fmt.Println(table.Render())
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "-"
}

// syntheticData returns n events of dimension d around m random centers.
func syntheticData(n, d, m int) gmm.Events {
	rng := rand.New(rand.NewPCG(42, uint64(n)))
	centers := make([]float64, m*d)
	for ii := range centers {
		centers[ii] = 20 * rng.Float64()
	}
	data := make([]float32, n*d)
	for i := range n {
		k := rng.IntN(m)
		for j := range d {
			data[i*d+j] = float32(centers[k*d+j] + rng.NormFloat64())
		}
	}
	return gmm.Events{Data: data, N: n, D: d}
}

func demo(ctx *specializer.Context, mode backends.Mode) {
	n, d, m := *flagN, *flagD, *flagM
	data := syntheticData(n, d, m)
	model := must.M1(gmm.New(ctx, m, d, mode))
	defer func() { must.M(model.Close()) }()

	model.MinIters, model.MaxIters = 1, 1
	bar := progressbar.NewOptions(*flagRounds,
		progressbar.OptionSetDescription("EM rounds"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rounds"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	var likelihood float64
	for range *flagRounds {
		likelihood = must.M1(model.Train(data))
		bar.Describe(fmt.Sprintf("EM rounds (likelihood=%.2f)", likelihood))
		must.M(bar.Add(1))
	}
	_ = bar.Finish()
	fmt.Println()

	labels := must.M1(model.Predict(data))
	counts := make([]int, model.M())
	for _, label := range labels {
		counts[label]++
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Model %s", model)))
	table := newPlainTable(true)
	table.Row("Component", "Weight", "# Events", "Mean")
	c := model.Components()
	for k := range model.M() {
		table.Row(strconv.Itoa(k), fmt.Sprintf("%.3f", c.Weights()[k]), humanize.Comma(int64(counts[k])),
			fmt.Sprintf("%.2f", c.Means()[k*d:(k+1)*d]))
	}
	fmt.Println(table.Render())

	stats := ctx.Buffers().Stats()
	cacheStats := ctx.Cache().Stats()
	table = newPlainTable(false)
	table.Row("likelihood", fmt.Sprintf("%.4f", model.Likelihood()))
	table.Row("buffer allocations", humanize.Comma(int64(stats.Allocations)))
	table.Row("device transfers", humanize.Comma(int64(stats.HostToDevice+stats.DeviceToHost)))
	table.Row("bytes transferred", humanize.IBytes(uint64(stats.BytesTransferred)))
	table.Row("dispatch cache hits", humanize.Comma(int64(cacheStats.Hits)))
	table.Row("dispatch cache misses", humanize.Comma(int64(cacheStats.Misses)))
	fmt.Println(table.Render())
}
