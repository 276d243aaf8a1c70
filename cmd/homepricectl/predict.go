package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mcules/homeprice/internal/client"
	"github.com/mcules/homeprice/internal/prediction"
	"github.com/mcules/homeprice/internal/rpc"
)

// estimator is the part of the HTTP and gRPC clients the commands use.
type estimator interface {
	predict(ctx context.Context, req prediction.Request) (float64, error)
	locations(ctx context.Context) ([]string, error)
}

type httpEstimator struct{ c *client.Client }

func (e httpEstimator) predict(ctx context.Context, req prediction.Request) (float64, error) {
	return e.c.PredictHomePrice(ctx, req)
}

func (e httpEstimator) locations(ctx context.Context) ([]string, error) {
	return e.c.Locations(ctx)
}

type grpcEstimator struct{ c *rpc.Client }

func (e grpcEstimator) predict(ctx context.Context, req prediction.Request) (float64, error) {
	return e.c.Predict(ctx, req)
}

func (e grpcEstimator) locations(ctx context.Context) ([]string, error) {
	return e.c.ListLocations(ctx)
}

func dialEstimator(g *globalFlags, transport string) (estimator, func(), error) {
	switch strings.ToLower(transport) {
	case "http":
		return httpEstimator{c: client.New(g.httpURL, g.apiKey)}, func() {}, nil
	case "grpc":
		conn, err := grpc.NewClient(g.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("grpc dial: %w", err)
		}
		return grpcEstimator{c: rpc.NewClient(conn, g.apiKey)}, func() { _ = conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q (want http or grpc)", transport)
	}
}

func newPredictCmd(g *globalFlags) *cobra.Command {
	var (
		transport string
		req       prediction.Request
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Estimate the price of a home",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := req.Validate(); err != nil {
				return err
			}
			est, closeFn, err := dialEstimator(g, transport)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			price, err := est.predict(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", price)
			return nil
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "http", "http or grpc")
	cmd.Flags().StringVar(&req.Location, "location", "", "location name")
	cmd.Flags().Float64Var(&req.Sqft, "sqft", 0, "total square feet")
	cmd.Flags().IntVar(&req.Bath, "bath", 0, "number of bathrooms")
	cmd.Flags().IntVar(&req.BHK, "bhk", 0, "number of bedrooms")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("sqft")
	_ = cmd.MarkFlagRequired("bath")
	_ = cmd.MarkFlagRequired("bhk")
	return cmd
}

func newLocationsCmd(g *globalFlags) *cobra.Command {
	var transport string
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "List the locations the model knows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			est, closeFn, err := dialEstimator(g, transport)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			locs, err := est.locations(ctx)
			if err != nil {
				return err
			}
			for _, l := range locs {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "http", "http or grpc")
	return cmd
}
