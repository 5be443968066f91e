package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/sfm/globalpose"
)

const histogramWidth = 40

// ConfigSchema returns the JSON schema of BenchmarkConfig.
func ConfigSchema() ([]byte, error) {
	return json.MarshalIndent(jsonschema.Reflect(&BenchmarkConfig{}), "", "  ")
}

// WriteHistograms prints text histograms of the per-view rotation and position errors.
func (r *BenchmarkResult) WriteHistograms(w io.Writer, bins int) error {
	for _, h := range []struct {
		title string
		stats globalpose.ErrorStats
	}{
		{"rotation error (deg)", r.Rotation},
		{"position error", r.Position},
	} {
		if len(h.stats.Values) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s:\n", h.title); err != nil {
			return err
		}
		hist := histogram.Hist(bins, h.stats.Values)
		if err := histogram.Fprint(w, hist, histogram.Linear(histogramWidth)); err != nil {
			return err
		}
	}
	return nil
}

// SavePlots writes PNG histograms of the per-view rotation and position errors into dir and
// returns the written paths.
func (r *BenchmarkResult) SavePlots(dir string, bins int) ([]string, error) {
	var written []string
	for _, h := range []struct {
		title, file string
		stats       globalpose.ErrorStats
	}{
		{"Rotation error (deg)", "rotation_errors.png", r.Rotation},
		{"Position error", "position_errors.png", r.Position},
	} {
		if len(h.stats.Values) == 0 {
			continue
		}
		p := plot.New()
		p.Title.Text = h.title
		p.Y.Label.Text = "views"
		hist, err := plotter.NewHist(plotter.Values(h.stats.Values), bins)
		if err != nil {
			return written, errors.Wrapf(err, "building %s histogram", h.file)
		}
		p.Add(hist)
		path := filepath.Join(dir, h.file)
		if err := p.Save(4*vg.Inch, 3*vg.Inch, path); err != nil {
			return written, errors.Wrapf(err, "saving %s", path)
		}
		written = append(written, path)
	}
	return written, nil
}
