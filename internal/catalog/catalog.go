// Package catalog holds the static table of assembly broadcast channels
// and the upstream status code vocabulary.
package catalog

// Broadcast status codes reported by the upstream schedule endpoint.
const (
	StatusPreBroadcast = 0
	StatusLive         = 1
	StatusRecess       = 2
	StatusEnded        = 3
	StatusNoBroadcast  = 4
)

var statusText = map[int]string{
	StatusPreBroadcast: "방송전",
	StatusLive:         "방송중",
	StatusRecess:       "정회중",
	StatusEnded:        "종료",
	StatusNoBroadcast:  "생중계없음",
}

// StatusText converts an upstream status code to its Korean display text.
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "알수없음"
}

// Channel describes one broadcast channel of the assembly.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	StreamURL string `json:"stream_url"`
}

// channels lists the 18 channels extracted from the assembly live site.
// Stream URL pattern: https://{host}/live/{ch}/playlist.m3u8
var channels = []Channel{
	{ID: "ch14", Name: "본회의", Code: "A011", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch14/playlist.m3u8"},
	{ID: "ch1", Name: "의회운영위원회", Code: "C001", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch1/playlist.m3u8"},
	{ID: "ch3", Name: "기획재정위원회", Code: "C105", StreamURL: "https://stream02.cdn.gov-ntruss.com/live/ch3/playlist.m3u8"},
	{ID: "ch6", Name: "경제노동위원회", Code: "C205", StreamURL: "https://stream02.cdn.gov-ntruss.com/live/ch6/playlist.m3u8"},
	{ID: "ch7", Name: "안전행정위원회", Code: "C301", StreamURL: "https://stream02.cdn.gov-ntruss.com/live/ch7/playlist.m3u8"},
	{ID: "ch8", Name: "문화체육관광위원회", Code: "C501", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch8/playlist.m3u8"},
	{ID: "ch15", Name: "농정해양위원회", Code: "C601", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch15/playlist.m3u8"},
	{ID: "ch2", Name: "보건복지위원회", Code: "C701", StreamURL: "https://stream02.cdn.gov-ntruss.com/live/ch2/playlist.m3u8"},
	{ID: "ch12", Name: "건설교통위원회", Code: "C807", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch12/playlist.m3u8"},
	{ID: "ch13", Name: "도시환경위원회", Code: "C901", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch13/playlist.m3u8"},
	{ID: "ch16", Name: "미래과학협력위원회", Code: "C9043", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch16/playlist.m3u8"},
	{ID: "ch11", Name: "여성가족평생교육위원회", Code: "C905", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch11/playlist.m3u8"},
	{ID: "ch4", Name: "교육기획위원회", Code: "C908", StreamURL: "https://stream02.cdn.gov-ntruss.com/live/ch4/playlist.m3u8"},
	{ID: "ch5", Name: "교육행정위원회", Code: "C909", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch5/playlist.m3u8"},
	{ID: "ch60", Name: "경기도청 예산결산특별위원회", Code: "E020", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch60/playlist.m3u8"},
	{ID: "ch61", Name: "경기도교육청 예산결산특별위원회", Code: "E030", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch61/playlist.m3u8"},
	{ID: "ch10", Name: "행정사무조사", Code: "E040", StreamURL: "https://stream01.cdn.gov-ntruss.com/live/ch10/playlist.m3u8"},
	{ID: "ch90", Name: "도의회 북부분원", Code: "E050", StreamURL: "https://stream02.cdn.gov-ntruss.com/live2/ch90/playlist.m3u8"},
}

// List returns all channels in catalog order.
func List() []Channel {
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out
}

// ByID looks up a channel by its id (e.g. "ch14").
func ByID(id string) (Channel, bool) {
	for _, ch := range channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}

// ByCode looks up a channel by its upstream schedule code (e.g. "A011").
func ByCode(code string) (Channel, bool) {
	for _, ch := range channels {
		if ch.Code == code {
			return ch, true
		}
	}
	return Channel{}, false
}
