package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/sells-group/diamond-cli/internal/client"
	"github.com/sells-group/diamond-cli/internal/model"
	"github.com/sells-group/diamond-cli/internal/ui"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Estimate the price of one diamond",
	Long:  "Asks the prediction API and falls back to the local artifacts when it cannot answer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := diamondFromFlags(cmd, "")
		apiURL, _ := cmd.Flags().GetString("api-url")
		dir, _ := cmd.Flags().GetString("artifacts")
		applyClientFlags(apiURL, dir)
		if err := cfg.Validate("client"); err != nil {
			return err
		}

		res, err := newEstimator(cfg).Predict(cmd.Context(), d)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeIndentedJSON(os.Stdout, res)
		}
		formatPrediction(os.Stdout, res)
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare the estimated prices of two diamonds",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := diamondFromFlags(cmd, "a-")
		b := diamondFromFlags(cmd, "b-")
		apiURL, _ := cmd.Flags().GetString("api-url")
		dir, _ := cmd.Flags().GetString("artifacts")
		applyClientFlags(apiURL, dir)
		if err := cfg.Validate("client"); err != nil {
			return err
		}

		cmp, err := newEstimator(cfg).Compare(cmd.Context(), a, b)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeIndentedJSON(os.Stdout, cmp)
		}
		formatComparison(os.Stdout, cmp)
		return nil
	},
}

func init() {
	addDiamondFlags(predictCmd, "", "")
	addDiamondFlags(compareCmd, "a-", "diamond A ")
	addDiamondFlags(compareCmd, "b-", "diamond B ")
	for _, c := range []*cobra.Command{predictCmd, compareCmd} {
		c.Flags().String("api-url", "", "prediction API base URL (default from config)")
		c.Flags().String("artifacts", "", "artifact directory for the local fallback (default from config)")
		c.Flags().Bool("json", false, "print the result as JSON")
		rootCmd.AddCommand(c)
	}
}

func addDiamondFlags(cmd *cobra.Command, prefix, label string) {
	cmd.Flags().Float64(prefix+"carat", ui.DefaultCarat, label+"carat weight (0.2 to 5.0)")
	cmd.Flags().String(prefix+"cut", ui.DefaultCut, label+"cut grade")
	cmd.Flags().String(prefix+"color", ui.DefaultColor, label+"color grade (D best, J worst)")
	cmd.Flags().String(prefix+"clarity", ui.DefaultClarity, label+"clarity grade")
	cmd.Flags().Float64(prefix+"table", ui.DefaultTable, label+"table percentage (43 to 95)")
}

func diamondFromFlags(cmd *cobra.Command, prefix string) model.Diamond {
	var d model.Diamond
	d.Carat, _ = cmd.Flags().GetFloat64(prefix + "carat")
	d.Cut, _ = cmd.Flags().GetString(prefix + "cut")
	d.Color, _ = cmd.Flags().GetString(prefix + "color")
	d.Clarity, _ = cmd.Flags().GetString(prefix + "clarity")
	d.Table, _ = cmd.Flags().GetFloat64(prefix + "table")
	return d
}

func writeIndentedJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func sourceLabel(res client.Result) string {
	if res.Source == client.SourceLocal {
		return "local model"
	}
	return "API"
}

func formatPrediction(out io.Writer, res client.Result) {
	d := res.Diamond
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Price (USD):\t%s\n", ui.FormatUSD(res.Prediction.PriceUSD))
	_, _ = fmt.Fprintf(w, "Price (IDR):\t%s\n", ui.FormatIDR(res.Prediction.PriceIDR))
	_, _ = fmt.Fprintf(w, "Source:\t%s\n", sourceLabel(res))
	_, _ = fmt.Fprintf(w, "Carat:\t%s\n", ui.FormatCarat(d.Carat))
	_, _ = fmt.Fprintf(w, "Cut:\t%s\n", d.Cut)
	_, _ = fmt.Fprintf(w, "Color:\t%s\n", d.Color)
	_, _ = fmt.Fprintf(w, "Clarity:\t%s\n", d.Clarity)
	_, _ = fmt.Fprintf(w, "Table:\t%s\n", ui.FormatTable(d.Table))
	_ = w.Flush()
}

func formatComparison(out io.Writer, c *client.Comparison) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\tDIAMOND A\tDIAMOND B")
	_, _ = fmt.Fprintf(w, "Carat\t%s\t%s\n", ui.FormatCarat(c.A.Diamond.Carat), ui.FormatCarat(c.B.Diamond.Carat))
	_, _ = fmt.Fprintf(w, "Cut\t%s\t%s\n", c.A.Diamond.Cut, c.B.Diamond.Cut)
	_, _ = fmt.Fprintf(w, "Color\t%s\t%s\n", c.A.Diamond.Color, c.B.Diamond.Color)
	_, _ = fmt.Fprintf(w, "Clarity\t%s\t%s\n", c.A.Diamond.Clarity, c.B.Diamond.Clarity)
	_, _ = fmt.Fprintf(w, "Table\t%s\t%s\n", ui.FormatTable(c.A.Diamond.Table), ui.FormatTable(c.B.Diamond.Table))
	_, _ = fmt.Fprintf(w, "Price (USD)\t%s\t%s\n", ui.FormatUSD(c.A.Prediction.PriceUSD), ui.FormatUSD(c.B.Prediction.PriceUSD))
	_, _ = fmt.Fprintf(w, "Price (IDR)\t%s\t%s\n", ui.FormatIDR(c.A.Prediction.PriceIDR), ui.FormatIDR(c.B.Prediction.PriceIDR))
	_, _ = fmt.Fprintf(w, "Source\t%s\t%s\n", sourceLabel(c.A), sourceLabel(c.B))
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nDifference: %s (%s, %s)\n", ui.FormatUSD(c.AbsDiffUSD), ui.FormatIDR(c.AbsDiffIDR), ui.FormatPercent(c.DiffPercent))
	_, _ = fmt.Fprintln(out, c.Verdict)
}
