package mediaresolve

import (
	"fmt"
	"log"
	"path"
	"regexp"
	"strconv"
	"strings"

	"rossoflix/utils/similarity"
)

// File is one entry of a torrent's file list.
type File struct {
	Path string
	Size int64
}

// Hints narrows down which file of a multi-file torrent should be served.
type Hints struct {
	// FileIndex is the index advertised by the torrent index, -1 when unknown.
	FileIndex int
	// Filename is advisory; it is only compared against names inside the torrent.
	Filename string
	Title    string
	Season   int
	Episode  int
}

// EpisodeCode captures a parsed SXXEXX code.
type EpisodeCode struct {
	Season  int
	Episode int
}

// minTitleSimilarity is the score a file must reach to win on title alone.
const minTitleSimilarity = 0.6

var (
	videoExtensions = map[string]struct{}{
		".mkv":  {},
		".mp4":  {},
		".m4v":  {},
		".avi":  {},
		".mov":  {},
		".mpg":  {},
		".mpeg": {},
		".ts":   {},
		".m2ts": {},
		".mts":  {},
		".webm": {},
		".wmv":  {},
	}
	episodeCodePattern   = regexp.MustCompile(`(?i)s(\d{1,2})\s*e(\d{1,3})`)
	episodeCrossPattern  = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)
	episodeAltPattern    = regexp.MustCompile(`(?i)ep(?:isode)?\.?\s*(\d{1,3})`)
	episodeNumberPattern = regexp.MustCompile(`(?i)[-_\s](\d{1,2})[-_\s\[\.]`)
)

// SelectFile picks the file to stream. Preference order: a valid advertised
// index, an exact filename match, the target episode, title similarity, then
// the largest video. It returns -1 only for an empty list.
func SelectFile(files []File, hints Hints) (int, string) {
	if len(files) == 0 {
		return -1, ""
	}
	if len(files) == 1 {
		return 0, "single file"
	}

	if hints.FileIndex >= 0 && hints.FileIndex < len(files) {
		return hints.FileIndex, fmt.Sprintf("advertised file index %d", hints.FileIndex)
	}

	if wanted := baseName(hints.Filename); wanted != "" {
		for idx, f := range files {
			if strings.EqualFold(baseName(f.Path), wanted) {
				return idx, "exact filename match"
			}
		}
	}

	videos := make([]int, 0, len(files))
	for idx, f := range files {
		if IsVideo(f.Path) && !isSample(f.Path) {
			videos = append(videos, idx)
		}
	}
	if len(videos) == 0 {
		for idx, f := range files {
			if IsVideo(f.Path) {
				videos = append(videos, idx)
			}
		}
	}

	if hints.Season > 0 && hints.Episode > 0 {
		target := EpisodeCode{Season: hints.Season, Episode: hints.Episode}
		var matching []int
		for _, idx := range videos {
			if CandidateMatchesEpisode(baseName(files[idx].Path), target) {
				matching = append(matching, idx)
			}
		}
		log.Printf("[selector] %d of %d videos match S%02dE%02d", len(matching), len(videos), target.Season, target.Episode)
		if len(matching) == 1 {
			return matching[0], fmt.Sprintf("matched episode code S%02dE%02d", target.Season, target.Episode)
		}
		if len(matching) > 1 {
			if idx, _ := bestBySimilarity(files, matching, referenceName(hints)); idx != -1 {
				return idx, "episode match + title similarity"
			}
			return largest(files, matching), "episode match fallback to size"
		}
	}

	if ref := referenceName(hints); ref != "" {
		if idx, score := bestBySimilarity(files, videos, ref); idx != -1 && score >= minTitleSimilarity {
			return idx, fmt.Sprintf("title similarity %.2f", score)
		}
	}

	if len(videos) > 0 {
		return largest(files, videos), "largest video"
	}

	all := make([]int, len(files))
	for i := range files {
		all[i] = i
	}
	return largest(files, all), "largest file"
}

// IsVideo reports whether name carries a known video container extension.
func IsVideo(name string) bool {
	_, ok := videoExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

func isSample(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "sample") || strings.Contains(lower, "/extras/")
}

func referenceName(h Hints) string {
	if ref := NormalizeReleasePart(h.Filename); ref != "" {
		return ref
	}
	return strings.TrimSpace(h.Title)
}

func bestBySimilarity(files []File, indices []int, ref string) (int, float64) {
	if ref == "" {
		return -1, 0
	}
	bestIdx, bestScore := -1, 0.0
	for _, idx := range indices {
		score := similarity.Similarity(NormalizeReleasePart(files[idx].Path), ref)
		if score <= 0 {
			continue
		}
		if bestIdx == -1 || score > bestScore || (score == bestScore && files[idx].Size > files[bestIdx].Size) {
			bestIdx, bestScore = idx, score
		}
	}
	return bestIdx, bestScore
}

func largest(files []File, indices []int) int {
	best := -1
	for _, idx := range indices {
		if best == -1 || files[idx].Size > files[best].Size {
			best = idx
		}
	}
	return best
}

func baseName(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// NormalizeReleasePart reduces a path to its base name without a video extension.
func NormalizeReleasePart(value string) string {
	base := baseName(value)
	if IsVideo(base) {
		base = strings.TrimSuffix(base, path.Ext(base))
	}
	return base
}

// ExtractEpisodeCode tries to find an SXXEXX or NxNN pattern across multiple strings.
func ExtractEpisodeCode(parts ...string) (EpisodeCode, bool) {
	for _, part := range parts {
		if season, episode, ok := parseEpisodeFromString(part); ok {
			return EpisodeCode{Season: season, Episode: episode}, true
		}
	}
	return EpisodeCode{}, false
}

// CandidateMatchesEpisode checks if the label carries the target episode.
// Bare episode numbers ("Ep. 05", " - 05 ") only count for season 1, where
// season packs commonly omit the season.
func CandidateMatchesEpisode(label string, target EpisodeCode) bool {
	season, episode, ok := parseEpisodeFromString(label)
	if ok {
		return season == target.Season && episode == target.Episode
	}
	if target.Season == 1 {
		episode, ok = parseEpisodeNumber(label)
		return ok && episode == target.Episode
	}
	return false
}

func parseEpisodeFromString(value string) (int, int, bool) {
	if strings.TrimSpace(value) == "" {
		return 0, 0, false
	}
	matches := episodeCodePattern.FindStringSubmatch(value)
	if len(matches) != 3 {
		matches = episodeCrossPattern.FindStringSubmatch(value)
	}
	if len(matches) != 3 {
		return 0, 0, false
	}
	season, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, 0, false
	}
	episode, err := strconv.Atoi(matches[2])
	if err != nil {
		return 0, 0, false
	}
	return season, episode, true
}

func parseEpisodeNumber(value string) (int, bool) {
	for _, pattern := range []*regexp.Regexp{episodeAltPattern, episodeNumberPattern} {
		if matches := pattern.FindStringSubmatch(value); len(matches) == 2 {
			if episode, err := strconv.Atoi(matches[1]); err == nil && episode > 0 {
				return episode, true
			}
		}
	}
	return 0, false
}
