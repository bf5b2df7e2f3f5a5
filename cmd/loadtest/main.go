package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/orderproc/internal/service/grpc"
)

const (
	methodProcessOrder = "ProcessOrder"
	methodGetOrder     = "GetOrder"
	methodListOrders   = "ListOrders"
)

type loadMode string

const (
	modeProcess     loadMode = "process"
	modeProcessGet  loadMode = "process-get"
	modeProcessList loadMode = "process-list"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	invalidRate int
	productID   string
	quantity    int
	items       int
	customerTag string
	outputPath  string
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-RPC timeout")
	flag.StringVar(&modeValue, "mode", string(modeProcess), "load mode: process | process-get | process-list")
	flag.IntVar(&cfg.invalidRate, "invalid-rate", 0, "share of orders without items in percent (0..100); they must be rejected with FailedPrecondition")
	flag.StringVar(&cfg.productID, "product-id", "product-load", "product id of every order item")
	flag.IntVar(&cfg.quantity, "quantity", 1, "quantity of every order item")
	flag.IntVar(&cfg.items, "items", 1, "number of items per order")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if cfg.items <= 0 {
		return cfg, errors.New("items must be > 0")
	}
	if cfg.invalidRate < 0 || cfg.invalidRate > 100 {
		return cfg, errors.New("invalid-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.productID) == "" {
		return cfg, errors.New("product-id is required")
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeProcess:
		return modeProcess, nil
	case modeProcessGet:
		return modeProcessGet, nil
	case modeProcessList:
		return modeProcessList, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(cfg, os.Stdout)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run открывает cfg.connections соединений, прогоняет сценарии и печатает отчёт в out.
func run(cfg config, out io.Writer) (report, error) {
	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]grpcsvc.OrderProcessorClient, 0, cfg.connections)
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()
	for i := 0; i < cfg.connections; i++ {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return report{}, fmt.Errorf("create grpc client connection: %w", err)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewOrderProcessorClient(conn))
	}

	result := runWorkers(cfg, clients)

	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return result, fmt.Errorf("write report: %w", err)
		}
	}
	return result, nil
}

func runWorkers(cfg config, clients []grpcsvc.OrderProcessorClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		client := clients[workerID%len(clients)]
		go func(cli grpcsvc.OrderProcessorClient) {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(cli, cfg, id, runID, col)
			}
		}(client)
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario оформляет один заказ и, в зависимости от режима, читает его обратно.
// Заказ без позиций должен быть отклонён с FailedPrecondition, иначе сценарий провален.
func runScenario(
	client grpcsvc.OrderProcessorClient,
	cfg config,
	index int,
	runID string,
	col *collector,
) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	scenarioOK := true
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode, scenarioOK)
	}()

	invalid := shouldSendInvalid(index, cfg.invalidRate)
	req := buildRequest(cfg, index, runID, invalid)

	resp, err := callProcessOrder(client, cfg.timeout, req, invalid, col)
	if invalid {
		scenarioCode = grpcCode(err)
		if scenarioCode != codes.FailedPrecondition {
			scenarioOK = false
			return fmt.Errorf("order without items: expected %s, got %s", codes.FailedPrecondition, scenarioCode)
		}
		col.rejected()
		return nil
	}
	if err != nil {
		scenarioCode, scenarioOK = grpcCode(err), false
		return err
	}
	if resp.OrderID == "" {
		scenarioCode, scenarioOK = codes.Internal, false
		return errors.New("process response misses order id")
	}
	if !col.confirmation(resp.TrackingNumber, scenarioStart, resp.EstimatedDelivery) {
		scenarioCode, scenarioOK = codes.Internal, false
		return fmt.Errorf("order %s confirmed with tracking %q and delivery %s", resp.OrderID, resp.TrackingNumber, resp.EstimatedDelivery)
	}

	switch cfg.mode {
	case modeProcessGet:
		if err := callGetOrder(client, cfg.timeout, resp.OrderID, col); err != nil {
			scenarioCode, scenarioOK = grpcCode(err), false
			return err
		}
	case modeProcessList:
		if err := callListOrders(client, cfg.timeout, req.CustomerID, col); err != nil {
			scenarioCode, scenarioOK = grpcCode(err), false
			return err
		}
	}

	return nil
}

func buildRequest(cfg config, index int, runID string, invalid bool) *grpcsvc.ProcessOrderRequest {
	req := &grpcsvc.ProcessOrderRequest{
		CustomerID: fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index),
	}
	if invalid {
		return req
	}
	req.Items = make([]*grpcsvc.OrderItem, 0, cfg.items)
	for i := 0; i < cfg.items; i++ {
		req.Items = append(req.Items, &grpcsvc.OrderItem{
			ProductID: fmt.Sprintf("%s-%d", cfg.productID, i),
			Quantity:  int32(cfg.quantity),
		})
	}
	return req
}

func callProcessOrder(
	client grpcsvc.OrderProcessorClient,
	timeout time.Duration,
	req *grpcsvc.ProcessOrderRequest,
	expectRejected bool,
	col *collector,
) (*grpcsvc.ProcessOrderResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.ProcessOrder(ctx, req)
	code := grpcCode(err)
	ok := code == codes.OK
	if expectRejected {
		ok = code == codes.FailedPrecondition
	}
	col.record(methodProcessOrder, time.Since(start), code, ok)
	return resp, err
}

func callGetOrder(
	client grpcsvc.OrderProcessorClient,
	timeout time.Duration,
	orderID string,
	col *collector,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.GetOrder(ctx, &grpcsvc.GetOrderRequest{OrderID: orderID})
	if err == nil && (resp.Order == nil || resp.Order.ID != orderID) {
		err = status.Errorf(codes.DataLoss, "order %s read back with a different id", orderID)
	}
	code := grpcCode(err)
	col.record(methodGetOrder, time.Since(start), code, code == codes.OK)
	return err
}

func callListOrders(
	client grpcsvc.OrderProcessorClient,
	timeout time.Duration,
	customerID string,
	col *collector,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.ListOrders(ctx, &grpcsvc.ListOrdersRequest{CustomerID: customerID, Limit: 1})
	if err == nil && len(resp.Orders) == 0 {
		err = status.Errorf(codes.NotFound, "customer %s has no orders", customerID)
	}
	code := grpcCode(err)
	col.record(methodListOrders, time.Since(start), code, code == codes.OK)
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldSendInvalid(index, invalidRate int) bool {
	if invalidRate <= 0 {
		return false
	}
	if invalidRate >= 100 {
		return true
	}
	// Заказы без позиций равномерно распределены по прогону.
	return (index+1)*invalidRate/100 > index*invalidRate/100
}
