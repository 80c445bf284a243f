package exchange

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// CurlCommand builds a cURL reproduction command from request data alone.
// It is computed eagerly at admission and never depends on the response.
// Headers are emitted in sorted order so the output is deterministic.
func CurlCommand(method, url string, header http.Header, body []byte) string {
	var b strings.Builder
	b.WriteString("curl -X ")
	b.WriteString(method)

	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range header[k] {
			fmt.Fprintf(&b, " -H \"%s: %s\"", k, v)
		}
	}

	if len(body) > 0 {
		fmt.Fprintf(&b, " -d \"%s\"", string(body))
	}

	fmt.Fprintf(&b, " \"%s\"", url)
	return b.String()
}
