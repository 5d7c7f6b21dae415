package nexusmods

// ModData is the mod node of the GraphQL API
type ModData struct {
	ModID        int    `graphql:"modId"`
	Name         string `graphql:"name"`
	Summary      string `graphql:"summary"`
	Version      string `graphql:"version"`
	Author       string `graphql:"author"`
	PictureURL   string `graphql:"pictureUrl"`
	Endorsements int    `graphql:"endorsements"`
	Downloads    int64  `graphql:"downloads"`
	UpdatedAt    string `graphql:"updatedAt"`
	Category     string `graphql:"category"`
}

// FileData is a downloadable file of a mod
type FileData struct {
	FileID   int    `graphql:"fileId"`
	Name     string `graphql:"name"`
	Version  string `graphql:"version"`
	Category string `graphql:"category"`
	Size     int64  `graphql:"sizeInBytes"`
	Date     int64  `graphql:"date"`
}

// DownloadLink is one CDN location returned by the REST download endpoint
type DownloadLink struct {
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	URI       string `json:"URI"`
}
