// Package presets provides named image sizes for the formatter.
package presets

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/dargueta/tinyext"
	"github.com/gocarina/gocsv"
)

type ImageSize struct {
	Slug        string `csv:"slug"`
	Name        string `csv:"name"`
	TotalBlocks uint   `csv:"total_blocks"`
	Notes       string `csv:"notes"`
}

// TotalSizeBytes gives the size of the image file for a given block size.
func (s *ImageSize) TotalSizeBytes(bytesPerBlock uint) int64 {
	return int64(s.TotalBlocks) * int64(bytesPerBlock)
}

//go:embed image-sizes.csv
var imageSizesRawCSV string
var imageSizes map[string]ImageSize
var orderedSlugs []string

// Get returns the preset with the given slug.
func Get(slug string) (ImageSize, error) {
	size, ok := imageSizes[slug]
	if ok {
		return size, nil
	}
	return ImageSize{}, tinyext.ErrInvalidArgument.WithMessage(
		fmt.Sprintf("no predefined image size exists with slug %q", slug))
}

// All returns every preset, smallest first.
func All() []ImageSize {
	result := make([]ImageSize, 0, len(orderedSlugs))
	for _, slug := range orderedSlugs {
		result = append(result, imageSizes[slug])
	}
	return result
}

func parse(rawCSV string) (map[string]ImageSize, []string, error) {
	csvReader := csv.NewReader(strings.NewReader(rawCSV))
	csvReader.Comma = '|'
	// Names contain inch marks.
	csvReader.LazyQuotes = true

	var rows []ImageSize
	if err := gocsv.UnmarshalCSV(csvReader, &rows); err != nil {
		return nil, nil, fmt.Errorf("failed to decode image sizes: %w", err)
	}

	sizes := make(map[string]ImageSize, len(rows))
	slugs := make([]string, 0, len(rows))
	for i, row := range rows {
		if _, exists := sizes[row.Slug]; exists {
			return nil, nil, fmt.Errorf(
				"duplicate definition for image size %q found on row %d", row.Slug, i+1)
		}
		sizes[row.Slug] = row
		slugs = append(slugs, row.Slug)
	}

	sort.SliceStable(slugs, func(i, j int) bool {
		return sizes[slugs[i]].TotalBlocks < sizes[slugs[j]].TotalBlocks
	})
	return sizes, slugs, nil
}

func init() {
	var err error
	imageSizes, orderedSlugs, err = parse(imageSizesRawCSV)
	if err != nil {
		panic(err)
	}
}
