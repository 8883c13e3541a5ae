package predictor

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"silicamon/internal/logger"
	"silicamon/internal/models"
)

const (
	cvFolds      = 5
	testFraction = 0.2
	ridgeLambda  = 1.0
	splitSeed    = 42
	minTrainingN = cvFolds * 2
)

// candidate is one regressor entered into cross-validated selection.
// Candidates are evaluated in declaration order; on an exact CV-score tie
// the earlier one is kept.
type candidate struct {
	name string
	fit  func(x *mat.Dense, y []float64) (weights []float64, intercept float64)
}

var candidates = []candidate{
	{name: "LeastSquares", fit: fitLeastSquares},
	{name: "Ridge", fit: fitRidge},
}

// dataset holds standardize-ready training rows.
type dataset struct {
	rows   [][]float64 // one slice per sample, len == len(FeatureColumns)
	target []float64
	source string
}

// loadTrainingData reads the CSV dataset, requiring every feature column and
// the target column in the header. Rows with missing or unparseable values
// are dropped.
func loadTrainingData(path string) (*dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open training data: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.TrimSpace(name)] = i
	}

	required := append(append([]string{}, models.FeatureColumns...), models.TargetColumn)
	var missing []string
	for _, col := range required {
		if _, ok := colIdx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("training data missing columns: %s", strings.Join(missing, ", "))
	}

	ds := &dataset{source: path}
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		row := make([]float64, len(models.FeatureColumns))
		ok := true
		for i, col := range models.FeatureColumns {
			v, perr := parseCell(record, colIdx[col])
			if perr != nil {
				ok = false
				break
			}
			row[i] = v
		}
		if !ok {
			continue
		}
		y, perr := parseCell(record, colIdx[models.TargetColumn])
		if perr != nil {
			continue
		}
		ds.rows = append(ds.rows, row)
		ds.target = append(ds.target, y)
	}

	if len(ds.rows) < minTrainingN {
		return nil, fmt.Errorf("training data has %d usable rows, need at least %d", len(ds.rows), minTrainingN)
	}
	return ds, nil
}

// parseCell handles both dot and comma decimal separators; the plant export
// uses comma decimals.
func parseCell(record []string, idx int) (float64, error) {
	if idx >= len(record) {
		return 0, fmt.Errorf("short record")
	}
	s := strings.TrimSpace(record[idx])
	if s == "" {
		return 0, fmt.Errorf("empty cell")
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

// trainArtifact runs the full training procedure: shuffle, 80/20 split,
// k-fold CV model selection on the train split, final fit, and held-out
// metrics on the test split.
func trainArtifact(dataPath string) (*Artifact, error) {
	log := logger.WithComponent("predictor")

	ds, err := loadTrainingData(dataPath)
	if err != nil {
		return nil, err
	}

	n := len(ds.rows)
	idx := rand.New(rand.NewSource(splitSeed)).Perm(n)
	nTest := int(float64(n) * testFraction)
	if nTest < 1 {
		nTest = 1
	}
	testIdx, trainIdx := idx[:nTest], idx[nTest:]

	bestName, bestScore := "", math.Inf(-1)
	var bestFit func(*mat.Dense, []float64) ([]float64, float64)
	for _, c := range candidates {
		score := crossValidate(ds, trainIdx, c.fit)
		log.Info().
			Str("model", c.name).
			Float64("cv_r2", score).
			Msg("candidate evaluated")
		if score > bestScore {
			bestName, bestScore, bestFit = c.name, score, c.fit
		}
	}

	means, stds := standardizer(ds, trainIdx)
	x, y := designMatrix(ds, trainIdx, means, stds)
	weights, intercept := bestFit(x, y)

	art := &Artifact{
		Version:        ArtifactVersion,
		ModelName:      bestName,
		FeatureColumns: append([]string(nil), models.FeatureColumns...),
		TargetColumn:   models.TargetColumn,
		TrainedAt:      time.Now().UTC(),
		Means:          means,
		Stds:           stds,
		Weights:        weights,
		Intercept:      intercept,
	}

	art.Metrics = evaluate(art, ds, testIdx)
	art.Metrics.TrainingSamples = len(trainIdx)
	art.Metrics.DataSource = ds.source

	log.Info().
		Str("model", bestName).
		Float64("cv_r2", bestScore).
		Float64("test_r2", art.Metrics.R2).
		Float64("rmse", art.Metrics.RMSE).
		Int("training_samples", art.Metrics.TrainingSamples).
		Msg("model trained")
	return art, nil
}

// crossValidate returns the mean R² over contiguous k folds of the train
// split.
func crossValidate(ds *dataset, trainIdx []int, fit func(*mat.Dense, []float64) ([]float64, float64)) float64 {
	n := len(trainIdx)
	foldSize := n / cvFolds
	var total float64

	for fold := 0; fold < cvFolds; fold++ {
		lo := fold * foldSize
		hi := lo + foldSize
		if fold == cvFolds-1 {
			hi = n
		}
		holdIdx := trainIdx[lo:hi]
		fitIdx := make([]int, 0, n-len(holdIdx))
		fitIdx = append(fitIdx, trainIdx[:lo]...)
		fitIdx = append(fitIdx, trainIdx[hi:]...)

		means, stds := standardizer(ds, fitIdx)
		x, y := designMatrix(ds, fitIdx, means, stds)
		weights, intercept := fit(x, y)

		estimates := make([]float64, len(holdIdx))
		values := make([]float64, len(holdIdx))
		for i, ri := range holdIdx {
			estimates[i] = predictRow(ds.rows[ri], means, stds, weights, intercept)
			values[i] = ds.target[ri]
		}
		total += stat.RSquaredFrom(estimates, values, nil)
	}
	return total / cvFolds
}

// standardizer computes per-column mean and std over the given rows.
func standardizer(ds *dataset, idx []int) (means, stds []float64) {
	nCols := len(models.FeatureColumns)
	means = make([]float64, nCols)
	stds = make([]float64, nCols)
	col := make([]float64, len(idx))

	for c := 0; c < nCols; c++ {
		for i, ri := range idx {
			col[i] = ds.rows[ri][c]
		}
		m, s := stat.MeanStdDev(col, nil)
		if s == 0 || math.IsNaN(s) {
			s = 1
		}
		means[c], stds[c] = m, s
	}
	return means, stds
}

// designMatrix builds the standardized design matrix and target vector for
// the given rows.
func designMatrix(ds *dataset, idx []int, means, stds []float64) (*mat.Dense, []float64) {
	nCols := len(models.FeatureColumns)
	x := mat.NewDense(len(idx), nCols, nil)
	y := make([]float64, len(idx))
	for i, ri := range idx {
		for c := 0; c < nCols; c++ {
			x.Set(i, c, (ds.rows[ri][c]-means[c])/stds[c])
		}
		y[i] = ds.target[ri]
	}
	return x, y
}

func predictRow(row, means, stds, weights []float64, intercept float64) float64 {
	y := intercept
	for c := range weights {
		y += weights[c] * (row[c] - means[c]) / stds[c]
	}
	return y
}

// fitLeastSquares solves the ordinary least-squares problem on centered
// targets; the intercept is the target mean since columns are standardized.
func fitLeastSquares(x *mat.Dense, y []float64) ([]float64, float64) {
	intercept := stat.Mean(y, nil)
	centered := make([]float64, len(y))
	for i, v := range y {
		centered[i] = v - intercept
	}

	_, nCols := x.Dims()
	b := mat.NewVecDense(len(centered), centered)
	var w mat.VecDense
	if err := w.SolveVec(x, b); err != nil {
		// Singular design matrix: fall back to the intercept-only model.
		return make([]float64, nCols), intercept
	}

	weights := make([]float64, nCols)
	for c := 0; c < nCols; c++ {
		weights[c] = w.AtVec(c)
	}
	return weights, intercept
}

// fitRidge solves (XᵀX + λI)w = Xᵀy on centered targets. The intercept is
// not penalized.
func fitRidge(x *mat.Dense, y []float64) ([]float64, float64) {
	intercept := stat.Mean(y, nil)
	centered := make([]float64, len(y))
	for i, v := range y {
		centered[i] = v - intercept
	}

	_, nCols := x.Dims()

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for c := 0; c < nCols; c++ {
		xtx.Set(c, c, xtx.At(c, c)+ridgeLambda)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), mat.NewVecDense(len(centered), centered))

	var w mat.VecDense
	if err := w.SolveVec(&xtx, &xty); err != nil {
		return make([]float64, nCols), intercept
	}

	weights := make([]float64, nCols)
	for c := 0; c < nCols; c++ {
		weights[c] = w.AtVec(c)
	}
	return weights, intercept
}

// evaluate computes held-out metrics for the fitted artifact.
func evaluate(a *Artifact, ds *dataset, testIdx []int) Metrics {
	estimates := make([]float64, len(testIdx))
	values := make([]float64, len(testIdx))
	var sumSq, sumAbs float64
	for i, ri := range testIdx {
		est := predictRow(ds.rows[ri], a.Means, a.Stds, a.Weights, a.Intercept)
		estimates[i] = est
		values[i] = ds.target[ri]
		diff := est - ds.target[ri]
		sumSq += diff * diff
		sumAbs += math.Abs(diff)
	}

	n := float64(len(testIdx))
	mse := sumSq / n
	return Metrics{
		R2:   stat.RSquaredFrom(estimates, values, nil),
		MSE:  mse,
		MAE:  sumAbs / n,
		RMSE: math.Sqrt(mse),
	}
}
