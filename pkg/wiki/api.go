package wiki

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// SiteInfo identifies the wiki installation behind the mirror.
type SiteInfo struct {
	Name      string
	Generator string
}

// Siteinfo queries the MediaWiki API once before a run. It doubles as a
// reachability probe: a failure here means the host is down or not a
// wiki anymore, which is a setup error rather than a per-entry one.
func (c *Client) Siteinfo(ctx context.Context) (SiteInfo, error) {
	body, err := c.fetcher.Get(ctx, c.APIBase+"?action=query&meta=siteinfo&format=json")
	if err != nil {
		return SiteInfo{}, err
	}

	name := gjson.GetBytes(body, "query.general.sitename").String()
	if name == "" {
		return SiteInfo{}, fmt.Errorf("unexpected siteinfo response from <%s>", c.APIBase)
	}
	return SiteInfo{
		Name:      name,
		Generator: gjson.GetBytes(body, "query.general.generator").String(),
	}, nil
}
