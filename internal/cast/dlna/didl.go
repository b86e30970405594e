package dlna

import "strings"

// didlLite builds the DIDL-Lite metadata document embedded in
// CurrentURIMetaData, following the same string-template approach the
// teacher uses in dms.go's didl_lite helper, generalized from a
// directory listing entry to a single playable item description.
func didlLite(title, mimeType string) string {
	var b strings.Builder
	b.WriteString(`<DIDL-Lite` +
		` xmlns:dc="http://purl.org/dc/elements/1.1/"` +
		` xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/"` +
		` xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"` +
		` xmlns:dlna="urn:schemas-dlna-org:metadata-1-0/">`)
	b.WriteString(`<item id="0" parentID="-1" restricted="1">`)
	b.WriteString(`<dc:title>` + escapeXML(title) + `</dc:title>`)
	b.WriteString(`<upnp:class>object.item.videoItem</upnp:class>`)
	b.WriteString(`<res protocolInfo="http-get:*:` + mimeType +
		`:DLNA.ORG_FLAGS=01700000000000000000000000000000"></res>`)
	b.WriteString(`</item>`)
	b.WriteString(`</DIDL-Lite>`)
	return b.String()
}

// escapeXML implements the exact escape table spec.md §4.3.2 requires
// (order matters: ampersand first).
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}
