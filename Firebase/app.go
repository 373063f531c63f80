package Firebase

import (
	"context"
	"fmt"

	"AcesFuel/Config"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// NewApp initializes the Firebase Admin app from a service account file.
// A disabled config yields a nil app and no error.
func NewApp(ctx context.Context, cfg Config.FirebaseConfig, bucket string) (*firebase.App, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opt := option.WithCredentialsFile(cfg.CredentialsFile)
	app, err := firebase.NewApp(ctx, &firebase.Config{StorageBucket: bucket}, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	return app, nil
}
