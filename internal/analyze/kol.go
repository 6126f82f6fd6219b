package analyze

import (
	"sort"
	"strings"
	"time"
)

const (
	kolMinPublications = 2
	kolMaxResults      = 20
)

// PublicationRef is the slice of a publication record the KOL report
// needs.
type PublicationRef struct {
	Title       string
	Journal     string
	URL         string
	PublishedAt time.Time
	Authors     []string
}

// KOL is one key opinion leader candidate: an author appearing on at
// least two publications in the input set.
type KOL struct {
	Name             string
	PublicationCount int
	Journals         []string
	RecentTitle      string
	URL              string
}

// IdentifyKOLs ranks authors by publication count, most published
// first, and returns at most twenty. Ties keep the author seen earlier
// in the input.
func IdentifyKOLs(publications []PublicationRef) []KOL {
	type authorInfo struct {
		count     int
		firstSeen int
		pubs      []PublicationRef
	}

	infos := make(map[string]*authorInfo)
	order := 0
	for _, pub := range publications {
		for _, author := range pub.Authors {
			name := strings.TrimSpace(author)
			if name == "" {
				continue
			}
			info, exists := infos[name]
			if !exists {
				info = &authorInfo{firstSeen: order}
				order++
				infos[name] = info
			}
			info.count++
			info.pubs = append(info.pubs, pub)
		}
	}

	names := make([]string, 0, len(infos))
	for name := range infos {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := infos[names[i]], infos[names[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.firstSeen < b.firstSeen
	})

	kols := make([]KOL, 0, kolMaxResults)
	for _, name := range names {
		info := infos[name]
		if info.count < kolMinPublications {
			break
		}

		journalSeen := make(map[string]struct{}, len(info.pubs))
		journals := make([]string, 0, len(info.pubs))
		for _, pub := range info.pubs {
			journal := pub.Journal
			if journal == "" {
				journal = "Unknown"
			}
			if _, dup := journalSeen[journal]; dup {
				continue
			}
			journalSeen[journal] = struct{}{}
			journals = append(journals, journal)
		}

		recent := info.pubs[0]
		var dated bool
		for _, pub := range info.pubs {
			if pub.PublishedAt.IsZero() {
				continue
			}
			if !dated || pub.PublishedAt.After(recent.PublishedAt) {
				recent = pub
				dated = true
			}
		}

		kols = append(kols, KOL{
			Name:             name,
			PublicationCount: info.count,
			Journals:         journals,
			RecentTitle:      recent.Title,
			URL:              info.pubs[0].URL,
		})
		if len(kols) == kolMaxResults {
			break
		}
	}
	return kols
}
