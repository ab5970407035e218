package summit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peaklogger/internal/gps"
	"peaklogger/internal/peakbagger"
)

type lookup struct {
	lat, lon float64
}

type fakeFinder struct {
	calls   []lookup
	results [][]peakbagger.Peak
	errs    []error
	cancel  context.CancelFunc
}

func (f *fakeFinder) NearbyPeaks(ctx context.Context, lat, lon float64, n int) ([]peakbagger.Peak, error) {
	i := len(f.calls)
	f.calls = append(f.calls, lookup{lat: lat, lon: lon})
	if f.cancel != nil {
		f.cancel()
		return nil, ctx.Err()
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	if i >= len(f.results) {
		return f.results[len(f.results)-1], nil
	}
	return f.results[i], nil
}

func names(matches []Match) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Peak.Name)
	}
	return out
}

// A roughly 22 km line heading north along a meridian.
var northLine = []gps.Point{
	{Lat: 49.0, Lon: -123.0},
	{Lat: 49.1, Lon: -123.0},
	{Lat: 49.2, Lon: -123.0},
}

func TestMatchSamplesEveryStrideAndEndpoint(t *testing.T) {
	finder := &fakeFinder{}
	m := &Matcher{Peaks: finder}

	_, err := m.Match(context.Background(), northLine, 10)
	require.NoError(t, err)

	require.Len(t, finder.calls, 3)
	first := gps.Along(northLine, 10_000)
	assert.InDelta(t, first.Lat, finder.calls[0].lat, 1e-9)
	last := northLine[len(northLine)-1]
	assert.InDelta(t, last.Lat, finder.calls[2].lat, 1e-9)
	assert.InDelta(t, last.Lon, finder.calls[2].lon, 1e-9)
}

func TestMatchEmptyPath(t *testing.T) {
	finder := &fakeFinder{}
	result, err := (&Matcher{Peaks: finder}).Match(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Summited)
	assert.Empty(t, result.Close)
	assert.Empty(t, finder.calls)
}

func TestMatchSinglePointSamplesOnce(t *testing.T) {
	point := gps.Point{Lat: 49.0, Lon: -123.0}
	finder := &fakeFinder{results: [][]peakbagger.Peak{{
		{ID: 1, Name: "On top", Lat: 49.0, Lon: -123.0},
	}}}

	result, err := (&Matcher{Peaks: finder}).Match(context.Background(), []gps.Point{point}, 10)
	require.NoError(t, err)
	assert.Len(t, finder.calls, 1)
	assert.Equal(t, []string{"On top"}, names(result.Summited))
}

func TestMatchClassifiesByDistance(t *testing.T) {
	peaks := []peakbagger.Peak{
		{ID: 1, Name: "Summited", Lat: 49.05, Lon: -123.00005},
		{ID: 2, Name: "Close", Lat: 49.1, Lon: -123.002},
		{ID: 3, Name: "Far", Lat: 49.15, Lon: -123.004},
		{ID: 4, Name: "Also close", Lat: 49.15, Lon: -122.999},
	}
	finder := &fakeFinder{results: [][]peakbagger.Peak{peaks}}

	result, err := (&Matcher{Peaks: finder}).Match(context.Background(), northLine, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Summited"}, names(result.Summited))
	assert.Equal(t, []string{"Close", "Also close"}, names(result.Close))
	for _, m := range result.Close {
		assert.GreaterOrEqual(t, m.Dist, 10.0)
		assert.Less(t, m.Dist, CloseMeters)
	}
}

func TestMatchRadiusIsExclusive(t *testing.T) {
	peak := peakbagger.Peak{ID: 7, Name: "Edge", Lat: 49.05, Lon: -123.0001}
	radius := gps.DistanceToLineMeters(gps.Point{Lat: peak.Lat, Lon: peak.Lon}, northLine)
	finder := &fakeFinder{results: [][]peakbagger.Peak{{peak}}}

	result, err := (&Matcher{Peaks: finder}).Match(context.Background(), northLine, radius)
	require.NoError(t, err)
	assert.Empty(t, result.Summited)
	assert.Equal(t, []string{"Edge"}, names(result.Close))
}

func TestClassifyBounds(t *testing.T) {
	const eps = 1e-9
	tests := []struct {
		name   string
		dist   float64
		radius float64
		want   class
	}{
		{name: "on the path", dist: 0, radius: 10, want: classSummited},
		{name: "just inside radius", dist: 10 - eps, radius: 10, want: classSummited},
		{name: "at radius", dist: 10, radius: 10, want: classClose},
		{name: "just inside close band", dist: CloseMeters - eps, radius: 10, want: classClose},
		{name: "at close bound", dist: CloseMeters, radius: 10, want: classFar},
		{name: "beyond close bound", dist: 1000, radius: 10, want: classFar},
		{name: "radius wider than close band", dist: 250, radius: 300, want: classSummited},
		{name: "zero radius", dist: 0, radius: 0, want: classClose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.dist, tt.radius))
		})
	}
}

func TestMatchDeduplicatesKeepingFirstSeen(t *testing.T) {
	finder := &fakeFinder{results: [][]peakbagger.Peak{
		{{ID: 1, Name: "First", Lat: 49.05, Lon: -123.0}, {ID: 2, Name: "Second", Lat: 49.15, Lon: -123.0}},
		{{ID: 2, Name: "Second renamed", Lat: 49.15, Lon: -123.0}, {ID: 3, Name: "Third", Lat: 49.18, Lon: -123.0}},
		{{ID: 1, Name: "First renamed", Lat: 49.05, Lon: -123.0}},
	}}

	result, err := (&Matcher{Peaks: finder}).Match(context.Background(), northLine, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"First", "Second", "Third"}, names(result.Summited))
	assert.Empty(t, result.Close)
}

func TestMatchSummitedAndCloseAreDisjoint(t *testing.T) {
	var peaks []peakbagger.Peak
	for i := 0; i < 40; i++ {
		peaks = append(peaks, peakbagger.Peak{ID: int64(i), Lat: 49.0 + float64(i)*0.005, Lon: -123.0 + float64(i%5)*0.0004})
	}
	finder := &fakeFinder{results: [][]peakbagger.Peak{peaks}}

	result, err := (&Matcher{Peaks: finder}).Match(context.Background(), northLine, 40)
	require.NoError(t, err)
	summited := make(map[int64]bool)
	for _, m := range result.Summited {
		summited[m.Peak.ID] = true
	}
	for _, m := range result.Close {
		assert.False(t, summited[m.Peak.ID], "peak %d in both sets", m.Peak.ID)
	}
	assert.NotEmpty(t, result.Summited)
	assert.NotEmpty(t, result.Close)
}

func TestMatchAbsorbsLookupFailures(t *testing.T) {
	finder := &fakeFinder{
		errs: []error{errors.New("boom"), nil, errors.New("boom")},
		results: [][]peakbagger.Peak{
			{{ID: 1, Name: "Lost", Lat: 49.05, Lon: -123.0}},
			{{ID: 2, Name: "Kept", Lat: 49.15, Lon: -123.0}},
			{{ID: 3, Name: "Lost too", Lat: 49.19, Lon: -123.0}},
		},
	}

	result, err := (&Matcher{Peaks: finder}).Match(context.Background(), northLine, 10)
	require.NoError(t, err)
	assert.Len(t, finder.calls, 3)
	assert.Equal(t, []string{"Kept"}, names(result.Summited))
}

func TestMatchStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	finder := &fakeFinder{cancel: cancel}

	_, err := (&Matcher{Peaks: finder}).Match(ctx, northLine, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, finder.calls, 1)
}

func TestMatchPolylineNorthShoreMountains(t *testing.T) {
	const track = "oislH`msmVi@rBkFdEqAnF}BzA@r@mAoA{BbBwBaCkANyA]w@yDaCvAiCRmAu@Ms@eAGa@kA}@`BeAaCw@?Uz@aDt@}@`CWhFq@kAo@~@GnBcA[HfAa@bA_AV}@dE{BxDPdFRdAoAtFrA~@~@fCNvEgAfECbEvAHPrBj@?MpC^h@c@lAdDHnArC{Bn@kBjAm@`CXb@aBxAGvAu@e@`Bj@Kn@uAz@MlAgAlAmADuDnDaArEr@`CgDlDUjBqBr@UfAuCnB{DTcBdD_DpBAjCgB`C}IJ}At@WdAoBdAeAbCgBhAQbAsAaBwDoAeAsBqBo@o@ZA`AgDb@If@qC`@jAfA{@p@\\No@t@NVgFwCYvAi@D?|@{@f@UEb@oASm@eBtDNaC[FkD`FsBrF_Cl@eAjBm@Z}BR[r@}BkAaDEmDjAsA`A_@lBg@PyDwB_@lCuBf@mGcFiAwD_CuBsC_K_Dp@oBa@wHrEiECWa@f@cAwAyAn@uAQeBeBy@@gAgA}BZkA_@cBc@G]gCKwAXU_@IDuAg@g@dAq@cAi@CkA{@KQyBg@}Ay@}@j@Vy@KzApAv@`EdBnBk@z@`@f@T|AMfB~AzFl@bGpBhAGjBe@t@~ArB]~@jEXhIyE`G?pCrJbA`B`CpC|BzARvAvAzApAT`@u@f@HVcCrEhBn@sBxFiCtEA~AhA`AgApADNs@`@Xp@aBh@t@fDqEdAeDnCeEf@ON~@dAsBPfBl@RGeALk@dDGbDbDrBIrEnDz@yAbIbF`B]dAjDGr@j@]Xj@u@|BDvD\\b@Wx@jB~DUtB\\zA~@h@aB_CD}CiAsC[eBRcEWaAh@wAgD_HC_Ad@k@lAvCuAkGG{Bt@yAfCoDrEmEvB{@tDnAbAYnCkELgBhBuAfB}CjE_@^eBpAHlAmBtAa@`AgDrBmBE}AhBeFd@I?mAr@{AhAKjAoA`@oB|A{@{@WD_AvAoBp@yDrAw@dCi@{AsBwCg@\\y@[aAXaCy@EMqBuA?HwAYq@nA{FD}DeAeDqAkAx@kFSsATeAqA_GGaBk@Sa@iBX_An@w@Et@`Dp@nCaAd@{B`AGI}A^m@~@dAd@}Gj@sAhDaAr@_AlBzBx@qAJbAt@ApBxBp@o@dBPtB}Ab@Rj@~CpDLjBnBxCwAb@vAr@wAd@Xx@oAD{Ah@WEyA~AaC|CwAl@oCTFSG"

	finder := &fakeFinder{results: [][]peakbagger.Peak{{
		{ID: 66078, Name: "Cathedral Mountain", ElevationFt: 5699, Lat: 49.466852, Lon: -123.008636},
		{ID: 97061, Name: "Coliseum Mountain", ElevationFt: 4728, Lat: 49.433864, Lon: -123.006921},
		{ID: 879, Name: "Mount Burwell", ElevationFt: 5056, Lat: 49.442617, Lon: -123.015197},
	}}}

	result, err := (&Matcher{Peaks: finder}).MatchPolyline(context.Background(), track, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cathedral Mountain", "Coliseum Mountain"}, names(result.Summited))
	assert.Equal(t, []string{"Mount Burwell"}, names(result.Close))
	assert.Greater(t, result.Close[0].Dist, 4.0)
}

func TestMatchPolylineRejectsGarbage(t *testing.T) {
	_, err := (&Matcher{Peaks: &fakeFinder{}}).MatchPolyline(context.Background(), "_p~iF~ps|U_", 10)
	assert.Error(t, err)
}

func TestResultPeaks(t *testing.T) {
	r := Result{
		Summited: []Match{{Peak: peakbagger.Peak{ID: 1}}},
		Close:    []Match{{Peak: peakbagger.Peak{ID: 2}}, {Peak: peakbagger.Peak{ID: 3}}},
	}
	var ids []int64
	for _, p := range r.Peaks() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}
