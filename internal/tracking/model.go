package tracking

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Model is the low-rank appearance model: Mean in R^D, Basis D×k
// orthonormal, EigVal length k descending, NSamples the (possibly
// fractional, forgetting-weighted) effective sample count, and ResEig the
// accumulated squared energy of basis columns dropped by the caller's
// MAX_BASIS cap.
//
// Model is a value the orchestrator swaps in under its lock; Update never
// mutates its receiver's arguments (spec.md §4.1, §9 "snapshot
// replacement").
type Model struct {
	Mean     []float64
	Basis    *mat.Dense // D x k, nil when k == 0
	EigVal   []float64  // length k
	NSamples float64
	ResEig   float64
}

// ZeroModel returns the zero-rank model for a template of dimension d,
// as held by a new Orchestrator and after Orchestrator.Reset.
func ZeroModel(d int) Model {
	return Model{
		Mean:     make([]float64, d),
		Basis:    nil,
		EigVal:   nil,
		NSamples: 0,
		ResEig:   0,
	}
}

// rank returns the current basis column count (0 if Basis is nil).
func (m Model) rank() int {
	if m.Basis == nil {
		return 0
	}
	_, k := m.Basis.Dims()
	return k
}

// Update performs one SKL increment (spec.md §4.1 steps 1-10). batch must
// be non-empty and every template must have the same length as prev.Mean.
// Update is pure: it never mutates prev.
func Update(prev Model, batch []Template, forgetting float64) (Model, error) {
	m := len(batch)
	if m == 0 {
		return Model{}, newNumericError("skl.update", errEmptyBatch)
	}
	d := len(batch[0])
	for _, t := range batch {
		if len(t) != d {
			return Model{}, newNumericError("skl.update", errRaggedBatch)
		}
	}
	if len(prev.Mean) != 0 && len(prev.Mean) != d {
		return Model{}, newNumericError("skl.update", errDimMismatch)
	}

	// A: D x m, the raw batch as columns.
	a := mat.NewDense(d, m, nil)
	for j, t := range batch {
		for i := 0; i < d; i++ {
			a.Set(i, j, t[i])
		}
	}

	meanNew := columnMean(a)

	ac := mat.NewDense(d, m, nil)
	subtractMeanCols(ac, a, meanNew)

	k := prev.rank()
	if k == 0 {
		var svd mat.SVD
		if !svd.Factorize(ac, mat.SVDThin) {
			return Model{}, newNumericError("skl.svd.initial", errSVDConverge)
		}
		var u mat.Dense
		svd.UTo(&u)
		values := svd.Values(nil)

		basis, eigval := trimZeroEnergy(&u, values)
		return Model{
			Mean:     meanNew,
			Basis:    basis,
			EigVal:   eigval,
			NSamples: float64(m),
			ResEig:   0,
		}, nil
	}

	n := prev.NSamples
	U := prev.Basis
	sigma := prev.EigVal

	weightedTotal := forgetting*n + float64(m)
	if weightedTotal == 0 {
		return Model{}, newNumericError("skl.update", errDegenerateWeights)
	}
	weightPrev := (forgetting * n) / weightedTotal
	weightNew := float64(m) / weightedTotal

	meanPrime := make([]float64, d)
	for i := 0; i < d; i++ {
		meanPrime[i] = weightPrev*prev.Mean[i] + weightNew*meanNew[i]
	}

	harmonic := (float64(m) * n) / (float64(m) + n)
	scale := math.Sqrt(harmonic)
	delta := make([]float64, d)
	for i := 0; i < d; i++ {
		delta[i] = scale * (meanNew[i] - prev.Mean[i])
	}

	// B: D x (m+1), Ac's columns plus the mean-shift column.
	b := mat.NewDense(d, m+1, nil)
	b.Slice(0, d, 0, m).(*mat.Dense).Copy(ac)
	for i := 0; i < d; i++ {
		b.Set(i, m, delta[i])
	}

	// P = U^T B (k x (m+1)); Q = B - U P (D x (m+1)).
	var p mat.Dense
	p.Mul(U.T(), b)

	var up mat.Dense
	up.Mul(U, &p)
	q := mat.NewDense(d, m+1, nil)
	q.Sub(b, &up)

	uPerp, err := economyOrthonormalBasis(q)
	if err != nil {
		return Model{}, newNumericError("skl.qr", err)
	}
	_, qcols := uPerp.Dims()

	var t4 mat.Dense
	t4.Mul(uPerp.T(), q)

	rHeight := k + qcols
	rWidth := k + (m + 1)
	r := mat.NewDense(rHeight, rWidth, nil)
	for i := 0; i < k; i++ {
		r.Set(i, i, forgetting*sigma[i])
	}
	for i := 0; i < k; i++ {
		for j := 0; j < m+1; j++ {
			r.Set(i, k+j, p.At(i, j))
		}
	}
	for i := 0; i < qcols; i++ {
		for j := 0; j < m+1; j++ {
			r.Set(k+i, k+j, t4.At(i, j))
		}
	}

	var svd mat.SVD
	if !svd.Factorize(r, mat.SVDThin) {
		return Model{}, newNumericError("skl.svd.update", errSVDConverge)
	}
	var uTilde mat.Dense
	svd.UTo(&uTilde)
	values := svd.Values(nil)

	// combined = [U, Uperp], D x (k+qcols).
	combined := mat.NewDense(d, k+qcols, nil)
	combined.Slice(0, d, 0, k).(*mat.Dense).Copy(U)
	combined.Slice(0, d, k, k+qcols).(*mat.Dense).Copy(uPerp)

	var basisFull mat.Dense
	basisFull.Mul(combined, &uTilde)

	basis, eigval := trimZeroEnergy(&basisFull, values)

	return Model{
		Mean:     meanPrime,
		Basis:    basis,
		EigVal:   eigval,
		NSamples: float64(m) + forgetting*n,
		ResEig:   prev.ResEig,
	}, nil
}

// TruncateToMaxBasis applies the caller-side basis cap from spec.md §4.1:
// drop columns beyond maxBasis, fold their squared energy into resEig
// (itself decayed by forgetting), and truncate coef in lockstep.
func TruncateToMaxBasis(m Model, maxBasis int, forgetting float64, coef []float64) (Model, []float64) {
	if m.rank() <= maxBasis {
		return m, coef
	}
	dropped := 0.0
	for _, v := range m.EigVal[maxBasis:] {
		dropped += v * v
	}
	d, _ := m.Basis.Dims()
	truncatedBasis := mat.NewDense(d, maxBasis, nil)
	truncatedBasis.Copy(m.Basis.Slice(0, d, 0, maxBasis))

	truncated := Model{
		Mean:     m.Mean,
		Basis:    truncatedBasis,
		EigVal:   append([]float64(nil), m.EigVal[:maxBasis]...),
		NSamples: m.NSamples,
		ResEig:   forgetting*m.ResEig + dropped,
	}
	var newCoef []float64
	if coef != nil {
		if len(coef) > maxBasis {
			newCoef = append([]float64(nil), coef[:maxBasis]...)
		} else {
			newCoef = coef
		}
	}
	return truncated, newCoef
}

func columnMean(a *mat.Dense) []float64 {
	rows, cols := a.Dims()
	mean := make([]float64, rows)
	if cols == 0 {
		return mean
	}
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += a.At(i, j)
		}
		mean[i] = sum / float64(cols)
	}
	return mean
}

func subtractMeanCols(dst, a *mat.Dense, mean []float64) {
	rows, cols := a.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(i, j, a.At(i, j)-mean[i])
		}
	}
}

// economyOrthonormalBasis returns an orthonormal basis for the column
// space of q (D x c, D >= c) via QR factorisation, taking only the first
// c columns of the full Q factor (spec.md §4.1 step 6, "economy QR").
func economyOrthonormalBasis(q *mat.Dense) (*mat.Dense, error) {
	d, c := q.Dims()
	var qr mat.QR
	qr.Factorize(q)
	var qFull mat.Dense
	qr.QTo(&qFull)

	econ := mat.NewDense(d, c, nil)
	econ.Copy(qFull.Slice(0, d, 0, c))
	return econ, nil
}

// trimZeroEnergy drops singular vectors whose value is below
// 1e-3 * ||values||_2 (spec.md §4.1 step 9).
func trimZeroEnergy(u *mat.Dense, values []float64) (*mat.Dense, []float64) {
	norm := 0.0
	for _, v := range values {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	cutoff := 1e-3 * norm

	keep := 0
	for _, v := range values {
		if v >= cutoff {
			keep++
		} else {
			break // values are already descending
		}
	}
	if keep == 0 {
		keep = 1 // never collapse to rank 0; the degenerate basis is still usable
	}

	d, _ := u.Dims()
	basis := mat.NewDense(d, keep, nil)
	basis.Copy(u.Slice(0, d, 0, keep))
	eigval := append([]float64(nil), values[:keep]...)
	return basis, eigval
}
