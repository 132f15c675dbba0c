package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/service"
	"github.com/shiva/rentwheels/pkg/fare"
)

// quoteOutput is what `rentwheels quote` prints.
type quoteOutput struct {
	Request service.QuoteRequest `json:"request"`
	Fare    model.FareBreakdown  `json:"fare_breakdown"`
}

func newQuoteCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a quote request offline",
		Long: `Reads a quote request as JSON (the body of POST /api/v1/fares/preview)
from --file or stdin and prints the itemized fare. Nothing is cached.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var req service.QuoteRequest
			dec := json.NewDecoder(io.LimitReader(in, 1<<20))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				return fmt.Errorf("decode quote request: %w", err)
			}

			calc, err := fare.NewCalculator(cfg.Tariff.Rates())
			if err != nil {
				return err
			}
			breakdown, normalized, err := service.NewPricingService(calc, nil, 0, log).Compute(req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(quoteOutput{Request: normalized, Fare: breakdown})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the request from this file instead of stdin")
	return cmd
}
