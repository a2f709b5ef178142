package validation

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("area", validateArea)
}

// ValidateRequest checks a DownloadRequest before any planning or network
// activity. Failures are fatal.
func ValidateRequest(req *domain.DownloadRequest) error {
	if err := validate.Struct(req); err != nil {
		return errpkg.NewFatal("validate request", fmt.Errorf("%w: %v", errpkg.ErrInvalidRequest, err))
	}
	return nil
}

// ValidateHours checks that every entry is an HH:MM time of day.
func ValidateHours(hours []string) error {
	if err := validate.Var(hours, "dive,len=5,datetime=15:04"); err != nil {
		return errpkg.NewFatal("validate hours", fmt.Errorf("%w: %v", errpkg.ErrInvalidRequest, err))
	}
	return nil
}

// ValidateRegion checks the bounds of r; a nil region means the whole globe.
func ValidateRegion(r *domain.Region) error {
	if r == nil {
		return nil
	}
	if err := validate.Var(r.Area(), "area"); err != nil {
		return errpkg.NewFatal("validate region", fmt.Errorf("%w: %v", errpkg.ErrInvalidRequest, err))
	}
	return nil
}

// validateArea accepts [N, W, S, E] with latitudes in [-90, 90] and
// longitudes in [-180, 360].
func validateArea(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Slice || field.Len() != 4 {
		return false
	}

	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		vals[i] = field.Index(i).Float()
	}

	north, west, south, east := vals[0], vals[1], vals[2], vals[3]
	for _, lat := range []float64{north, south} {
		if lat < -90 || lat > 90 {
			return false
		}
	}
	for _, lon := range []float64{west, east} {
		if lon < -180 || lon > 360 {
			return false
		}
	}
	return true
}
