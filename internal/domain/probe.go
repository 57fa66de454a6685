package domain

type QualityTier string

const (
	QualityUnknown QualityTier = "unknown"
	QualitySD      QualityTier = "SD"
	Quality480p    QualityTier = "480p"
	Quality720p    QualityTier = "720p"
	Quality1080p   QualityTier = "1080p"
	Quality2K      QualityTier = "2K"
	Quality4K      QualityTier = "4K"
)

var qualityRanks = map[QualityTier]int{
	QualityUnknown: 0,
	QualitySD:      1,
	Quality480p:    2,
	Quality720p:    3,
	Quality1080p:   4,
	Quality2K:      5,
	Quality4K:      6,
}

// Rank orders tiers from unknown (0) to 4K (6).
func (q QualityTier) Rank() int {
	return qualityRanks[q]
}

const (
	LoadSpeedFailed  = "measurement failed"
	LoadSpeedUnknown = "unknown"
	PingSentinelMS   = 999
)

type ProbeResult struct {
	Quality          QualityTier `json:"quality"`
	LoadSpeed        string      `json:"loadSpeed"`
	PingTime         int         `json:"pingTime"`
	IsMasterPlaylist bool        `json:"isMasterPlaylist"`
}

// FailedProbe is returned when every measurement strategy failed.
func FailedProbe() ProbeResult {
	return ProbeResult{
		Quality:   QualityUnknown,
		LoadSpeed: LoadSpeedFailed,
		PingTime:  PingSentinelMS,
	}
}
