package models

import (
	"fmt"
	"strings"

	"github.com/desertthunder/mlsync/internal/shared"
)

// Kind is the content kind of a synced item.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindShow    Kind = "show"
	KindSeason  Kind = "season"
	KindEpisode Kind = "episode"
	KindArtist  Kind = "artist"
	KindAlbum   Kind = "album"
	KindSong    Kind = "song"
)

// Library types as reported by the media server.
const (
	LibraryMovie  = "movie"
	LibraryShow   = "show"
	LibraryArtist = "artist"
)

var typeCodes = map[Kind]int{
	KindMovie:   1,
	KindShow:    2,
	KindSeason:  3,
	KindEpisode: 4,
	KindArtist:  8,
	KindAlbum:   9,
	KindSong:    10,
}

// ParseKind maps a kind name, or the server's "track" alias for songs, onto a [Kind].
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "track" {
		return KindSong, nil
	}
	k := Kind(s)
	if _, ok := typeCodes[k]; !ok {
		return "", fmt.Errorf("%w: %q", shared.ErrUnknownKind, s)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }

// TypeCode is the numeric type filter the server uses for this kind.
func (k Kind) TypeCode() int { return typeCodes[k] }

// Ordered reports whether items of this kind must be written in enumeration order.
func (k Kind) Ordered() bool { return k == KindAlbum }

// HasChildren reports whether each item needs its child documents fetched as well.
func (k Kind) HasChildren() bool { return k == KindAlbum }

// ChildKind is the kind of the children fetched for k, if any.
func (k Kind) ChildKind() Kind {
	if k == KindAlbum {
		return KindSong
	}
	return ""
}

// HasCollections reports whether items of this kind can belong to collections.
func (k Kind) HasCollections() bool { return k == KindMovie }

// LibraryType is the type of library section that contains items of this kind.
func (k Kind) LibraryType() string {
	switch k {
	case KindMovie:
		return LibraryMovie
	case KindShow, KindSeason, KindEpisode:
		return LibraryShow
	default:
		return LibraryArtist
	}
}

// SyncKinds lists kinds in processing order so parents are always written before children.
//
// Songs are stored as album children, so only the play-state pass visits them directly.
func SyncKinds(music, playstate bool) []Kind {
	kinds := []Kind{KindMovie, KindShow, KindSeason, KindEpisode}
	if music {
		kinds = append(kinds, KindArtist, KindAlbum)
		if playstate {
			kinds = append(kinds, KindSong)
		}
	}
	return kinds
}
