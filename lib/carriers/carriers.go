// Package carriers wires every adapter into the tracking registry.
package carriers

import (
	"package-tracker/lib/browserutil"
	"package-tracker/lib/captcha"
	"package-tracker/lib/scrapers/familymart"
	"package-tracker/lib/scrapers/postoffice"
	"package-tracker/lib/scrapers/seveneleven"
	"package-tracker/lib/scrapers/shopee"
	"package-tracker/lib/scrapers/tcat"
	"package-tracker/lib/track"
)

type Options struct {
	// Classifier solves CAPTCHA images for the carriers that need one.
	Classifier captcha.Classifier
	// Browser configures headless Chrome for the browser-backed carriers.
	Browser browserutil.Options
	// MaxRetries overrides each adapter's default when positive.
	MaxRetries int
}

// RegisterAll registers every supported carrier in display order. Call
// it exactly once at startup.
func RegisterAll(opts Options) {
	track.Register(
		(&seveneleven.Client{}).Descriptor(),
		func() (track.Carrier, error) {
			return seveneleven.NewClient(seveneleven.Options{
				Classifier: opts.Classifier,
				MaxRetries: opts.MaxRetries,
			}), nil
		},
	)
	track.Register(
		(&familymart.Client{}).Descriptor(),
		func() (track.Carrier, error) {
			return familymart.NewClient(familymart.Options{
				Classifier: opts.Classifier,
				MaxRetries: opts.MaxRetries,
			}), nil
		},
	)
	track.Register(
		(&tcat.Client{}).Descriptor(),
		func() (track.Carrier, error) {
			return tcat.NewClient(tcat.Options{
				MaxRetries: opts.MaxRetries,
			}), nil
		},
	)
	track.Register(
		(&postoffice.Client{}).Descriptor(),
		func() (track.Carrier, error) {
			return postoffice.NewClient(postoffice.Options{
				Classifier: opts.Classifier,
				Browser:    opts.Browser,
				MaxRetries: opts.MaxRetries,
			}), nil
		},
	)
	track.Register(
		(&shopee.Client{}).Descriptor(),
		func() (track.Carrier, error) {
			return shopee.NewClient(shopee.Options{
				Browser: opts.Browser,
			}), nil
		},
	)
}
