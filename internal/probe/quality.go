package probe

import (
	"fmt"

	"vodstream/searchservice/internal/domain"
)

// QualityFromResolution maps dimensions to a tier. Either dimension reaching
// a threshold is enough, so 1920x800 is 1080p and 1440x1080 is too.
func QualityFromResolution(width, height int) domain.QualityTier {
	switch {
	case width >= 3840 || height >= 2160:
		return domain.Quality4K
	case width >= 2560 || height >= 1440:
		return domain.Quality2K
	case width >= 1920 || height >= 1080:
		return domain.Quality1080p
	case width >= 1280 || height >= 720:
		return domain.Quality720p
	case width >= 854 || height >= 480:
		return domain.Quality480p
	case width > 0 || height > 0:
		return domain.QualitySD
	default:
		return domain.QualityUnknown
	}
}

// FormatSpeed renders a KiB/s throughput.
func FormatSpeed(kbps float64) string {
	if kbps <= 0 {
		return domain.LoadSpeedUnknown
	}
	if kbps >= 1024 {
		return fmt.Sprintf("%.1f MB/s", kbps/1024)
	}
	return fmt.Sprintf("%.1f KB/s", kbps)
}

func throughputKBps(bytes int64, elapsedMS float64) float64 {
	if bytes <= 0 || elapsedMS <= 0 {
		return 0
	}
	return (float64(bytes) / 1024) / (elapsedMS / 1000)
}
