package proxypool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// flexInt decodes a JSON field that the vendor count endpoint may emit as
// either a string or a number.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("proxypool: flexInt: %w", err)
	}
	*f = flexInt(n)
	return nil
}

type countResponse struct {
	Code int `json:"code"`
	Data []struct {
		ExpireTime    string  `json:"expire_time"`
		IsAvailable   bool    `json:"is_available"`
		RemainConnect flexInt `json:"remain_connect"`
		RemainExtract flexInt `json:"remain_extract"`
		Remain        flexInt `json:"remain"`
	} `json:"data"`
}

// fetchRemainingCount hits the vendor count endpoint and returns
// the extraction quota used to decide whether a refill should even attempt
// a fetch.
func (p *Pool) fetchRemainingCount(ctx context.Context) (ExtractionStats, error) {
	body, err := p.fetcher.Fetch(ctx, p.cfg.CountTarget)
	if err != nil {
		return ExtractionStats{}, err
	}

	var resp countResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ExtractionStats{}, err
	}
	if resp.Code != 200 || len(resp.Data) == 0 {
		return ExtractionStats{}, fmt.Errorf("proxypool: count endpoint returned code %d", resp.Code)
	}

	d := resp.Data[0]
	expireAt, _ := time.Parse("2006-01-02 15:04:05", d.ExpireTime)
	return ExtractionStats{
		ExpireAt:          expireAt,
		RemainingProducts: int(d.Remain),
		RemainingConnects: int(d.RemainConnect),
		RemainingExtracts: int(d.RemainExtract),
		Available:         d.IsAvailable && int(d.Remain) > 0,
	}, nil
}
