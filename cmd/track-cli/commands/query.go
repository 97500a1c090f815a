package commands

import (
	"fmt"
	"os"
	"sync"
	"time"

	"package-tracker/lib/browserutil"
	"package-tracker/lib/captcha"
	"package-tracker/lib/carriers"
	"package-tracker/lib/cliutil"
	"package-tracker/lib/inputstore"
	"package-tracker/lib/restyutil"
	"package-tracker/lib/track"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	queryCarrier    *string
	queryUseSaved   *bool
	querySave       *bool
	queryBatch      *bool
	queryCaptchaCmd *string
	queryBrowserBin *string
	queryRetries    *int
	queryStorePath  *string
	queryHttpDump   *string
)

func init() {
	queryCarrier = queryCmd.Flags().StringP("carrier", "c", "", "The carrier to query (see `track-cli carriers`).")
	queryUseSaved = queryCmd.Flags().Bool("saved", false, "Query the numbers previously saved for this carrier.")
	querySave = queryCmd.Flags().Bool("save", false, "Save the queried numbers for later runs.")
	queryBatch = queryCmd.Flags().Bool("batch", false, "Submit numbers in carrier-sized batches instead of one at a time.")
	queryCaptchaCmd = queryCmd.Flags().String("captcha-cmd", "", "External program that reads a CAPTCHA image on stdin and prints its text.")
	queryBrowserBin = queryCmd.Flags().String("browser-bin", "", "Path to a Chrome/Chromium binary for browser-backed carriers.")
	queryRetries = queryCmd.Flags().Int("retries", 0, "Override the carrier's default retry count.")
	queryStorePath = queryCmd.Flags().String("store", inputstore.DefaultPath, "Path of the saved-numbers file.")
	queryHttpDump = queryCmd.Flags().String("http-dump", "", "Directory to dump every HTTP exchange to, for debugging.")
	queryCmd.MarkFlagRequired("carrier")
	rootCmd.AddCommand(queryCmd)
}

var registerOnce sync.Once

func registerCarriers() {
	registerOnce.Do(func() {
		carriers.RegisterAll(carriers.Options{
			Classifier: captcha.NewCommand(*queryCaptchaCmd),
			Browser:    browserutil.Options{Bin: *queryBrowserBin},
			MaxRetries: *queryRetries,
		})
	})
}

var queryCmd = &cobra.Command{
	Use:   "query --carrier <name> [tracking numbers...]",
	Short: "Queries parcel status for one carrier.",
	Run: func(cmd *cobra.Command, args []string) {
		if *queryHttpDump != "" {
			restyutil.SetInstrumentOutput(restyutil.NewFilesystemOutput(*queryHttpDump))
		}
		registerCarriers()

		reg, ok := track.Lookup(*queryCarrier)
		if !ok {
			cliutil.Fatal("unknown carrier", fmt.Errorf("%q, see `track-cli carriers`", *queryCarrier))
		}

		store := inputstore.New(*queryStorePath)
		trackingNumbers := args
		if *queryUseSaved {
			saved, err := store.Get(reg.Descriptor.Name)
			if err != nil {
				cliutil.Fatal("failed to read saved numbers", err)
			}
			trackingNumbers = append(saved, trackingNumbers...)
		}
		if len(trackingNumbers) == 0 {
			cliutil.Fatal("nothing to query", fmt.Errorf("pass tracking numbers or --saved"))
		}
		if *querySave {
			err := store.Put(reg.Descriptor.Name, trackingNumbers)
			if err != nil {
				cliutil.Fatal("failed to save numbers", err)
			}
		}

		carrier, err := reg.New()
		if err != nil {
			cliutil.Fatal("failed to initialize carrier", err)
		}

		ctx, cancel := cliutil.SignalContext()
		defer cancel()

		fmt.Printf("%s: 查詢 %d 個包裹\n", reg.Descriptor.DisplayName(), len(trackingNumbers))

		var results []track.QueryResult
		if *queryBatch {
			results = track.Dispatcher{}.Run(ctx, carrier, trackingNumbers)
		} else {
			sink := &consoleSink{}
			track.Orchestrator{Sink: sink}.Run(ctx, carrier, trackingNumbers)
			results = sink.results
		}

		renderResults(results)
	},
}

// consoleSink prints progress lines as they happen and collects results
// for the final table.
type consoleSink struct {
	mu      sync.Mutex
	results []track.QueryResult
}

func (s *consoleSink) Status(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(os.Stderr, message)
}

func (s *consoleSink) Progress(completed, total int) {}

func (s *consoleSink) Result(r track.QueryResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *consoleSink) Finished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(os.Stderr, "查詢完成！(%s)\n", time.Now().Format("15:04:05"))
}

func renderResults(results []track.QueryResult) {
	t := cliutil.NewTable()
	t.AppendHeader(table.Row{"包裹編號", "訂單編號", "狀態", "時間"})
	for _, r := range results {
		row := r.Row()
		t.AppendRow(table.Row{row[0], row[1], row[2], row[3]})
	}
	t.Render()
}
