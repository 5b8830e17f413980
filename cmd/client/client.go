package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"vellum/internal/common"
	vellumnet "vellum/internal/net"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'amend', 'cancel', 'log']")

	ticker := flag.String("ticker", "AAPL", "Ticker symbol (max 4 chars)")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	price := flag.Float64("price", 100.0, "Limit price")
	amountStr := flag.String("amount", "10", "Amount or comma-separated list (e.g. 10,20,50)")

	orderID := flag.Uint64("order-id", 0, "OrderID of the order to amend/cancel")

	flag.Parse()

	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	go readReports(conn)

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}

	orderType := common.LimitOrder
	if strings.ToLower(*typeStr) == "market" {
		orderType = common.MarketOrder
	}

	switch strings.ToLower(*action) {
	case "place":
		amounts := parseAmounts(*amountStr)
		for _, a := range amounts {
			err := sendNewOrder(conn, *owner, common.Equities, orderType, *ticker, *price, a, side)
			if err != nil {
				log.Printf("Failed to place order (Amount: %.2f): %v", a, err)
			} else {
				fmt.Printf("-> Sent %s Order: %s %.2f @ %.2f\n", strings.ToUpper(*sideStr), *ticker, a, *price)
			}
			time.Sleep(5 * time.Millisecond)
		}

	case "amend":
		if *orderID == 0 {
			log.Fatal("Error: -order-id is required for amend")
		}
		amounts := parseAmounts(*amountStr)
		amount := 0.0
		if len(amounts) > 0 {
			amount = amounts[0]
		}
		err := sendAmendOrder(conn, *owner, common.Equities, *ticker, *price, amount, side, *orderID)
		if err != nil {
			log.Printf("Failed to send amend request: %v", err)
		} else {
			fmt.Printf("-> Sent Amend Request for OrderID: %d\n", *orderID)
		}

	case "cancel":
		if *orderID == 0 {
			log.Fatal("Error: -order-id is required for cancellation")
		}
		err := sendCancelOrder(conn, *owner, *orderID)
		if err != nil {
			log.Printf("Failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> Sent Cancel Request for OrderID: %d\n", *orderID)
		}

	case "log":
		err := sendLog(conn)
		if err != nil {
			log.Printf("Failed to send log request: %v", err)
		} else {
			fmt.Println("-> Sent Log Request")
		}

	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

func parseAmounts(input string) []float64 {
	parts := strings.Split(input, ",")
	var result []float64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseFloat(p, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid amount '%s', skipping.", p)
		}
	}
	return result
}

func sendNewOrder(conn net.Conn, owner string, asset common.AssetType, orderType common.OrderType, ticker string, price, amount float64, side common.Side) error {
	usernameLen := len(owner)
	totalLen := vellumnet.NewOrderMessageHeaderLen + usernameLen
	buf := make([]byte, totalLen)

	binary.BigEndian.PutUint16(buf[0:2], uint16(vellumnet.NewOrder))
	binary.BigEndian.PutUint16(buf[2:4], uint16(asset))
	binary.BigEndian.PutUint16(buf[4:6], uint16(orderType))
	copy(buf[6:10], padTicker(ticker))
	binary.BigEndian.PutUint64(buf[10:18], math.Float64bits(price))
	binary.BigEndian.PutUint64(buf[18:26], math.Float64bits(amount))
	buf[26] = byte(side)
	buf[27] = uint8(usernameLen)
	copy(buf[28:], owner)

	_, err := conn.Write(buf)
	return err
}

func sendAmendOrder(conn net.Conn, owner string, asset common.AssetType, ticker string, price, amount float64, side common.Side, orderID uint64) error {
	usernameLen := len(owner)
	totalLen := vellumnet.AmendOrderMessageHeaderLen + usernameLen
	buf := make([]byte, totalLen)

	binary.BigEndian.PutUint16(buf[0:2], uint16(vellumnet.AmendOrder))
	binary.BigEndian.PutUint64(buf[2:10], orderID)
	binary.BigEndian.PutUint16(buf[10:12], uint16(asset))
	copy(buf[12:16], padTicker(ticker))
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(price))
	binary.BigEndian.PutUint64(buf[24:32], math.Float64bits(amount))
	buf[32] = byte(side)
	buf[33] = uint8(usernameLen)
	copy(buf[34:], owner)

	_, err := conn.Write(buf)
	return err
}

func sendCancelOrder(conn net.Conn, owner string, orderID uint64) error {
	usernameLen := len(owner)
	totalLen := vellumnet.CancelOrderMessageHeaderLen + usernameLen
	buf := make([]byte, totalLen)

	binary.BigEndian.PutUint16(buf[0:2], uint16(vellumnet.CancelOrder))
	binary.BigEndian.PutUint64(buf[2:10], orderID)
	buf[10] = uint8(usernameLen)
	copy(buf[11:], owner)

	_, err := conn.Write(buf)
	return err
}

func sendLog(conn net.Conn) error {
	buf := make([]byte, vellumnet.BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(vellumnet.LogBook))
	_, err := conn.Write(buf)
	return err
}

func padTicker(ticker string) []byte {
	b := make([]byte, 4)
	copy(b, ticker)
	return b
}

// readReports continuously reads and prints Report messages from the server.
// Every report leads with a 1-byte ReportMessageType tag that decides how
// the rest of the frame is shaped.
func readReports(conn net.Conn) {
	for {
		tagBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, tagBuf); err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}

		switch vellumnet.ReportMessageType(tagBuf[0]) {
		case vellumnet.AckReport:
			rest := make([]byte, 1+8+2)
			if _, err := io.ReadFull(conn, rest); err != nil {
				log.Printf("error reading ack report: %v", err)
				return
			}
			success := rest[0] == 1
			orderID := binary.BigEndian.Uint64(rest[1:9])
			msgLen := binary.BigEndian.Uint16(rest[9:11])
			msg := make([]byte, msgLen)
			if msgLen > 0 {
				io.ReadFull(conn, msg)
			}
			fmt.Printf("\n[ACK] success=%t orderID=%d msg=%q\n", success, orderID, string(msg))

		case vellumnet.OrderUpdateReport:
			rest := make([]byte, 8+1+8)
			if _, err := io.ReadFull(conn, rest); err != nil {
				log.Printf("error reading order update report: %v", err)
				return
			}
			orderID := binary.BigEndian.Uint64(rest[0:8])
			status := common.OrderStatus(rest[8])
			unfilled := math.Float64frombits(binary.BigEndian.Uint64(rest[9:17]))
			fmt.Printf("\n[ORDER UPDATE] orderID=%d status=%s unfilled=%.2f\n", orderID, status, unfilled)

		case vellumnet.ExecutionReport:
			rest := make([]byte, 8+8+8+8+2)
			if _, err := io.ReadFull(conn, rest); err != nil {
				log.Printf("error reading execution report: %v", err)
				return
			}
			price := math.Float64frombits(binary.BigEndian.Uint64(rest[0:8]))
			amount := math.Float64frombits(binary.BigEndian.Uint64(rest[8:16]))
			ownOrderID := binary.BigEndian.Uint64(rest[16:24])
			cpOrderID := binary.BigEndian.Uint64(rest[24:32])
			cpLen := binary.BigEndian.Uint16(rest[32:34])
			cp := make([]byte, cpLen)
			if cpLen > 0 {
				io.ReadFull(conn, cp)
			}
			fmt.Printf("\n[EXECUTION] orderID=%d vs orderID=%d (%s) | Amount: %.2f | Price: %.2f\n",
				ownOrderID, cpOrderID, string(cp), amount, price)

		case vellumnet.ErrorReport:
			rest := make([]byte, 4)
			if _, err := io.ReadFull(conn, rest); err != nil {
				log.Printf("error reading error report: %v", err)
				return
			}
			errLen := binary.BigEndian.Uint32(rest)
			errStr := make([]byte, errLen)
			if errLen > 0 {
				io.ReadFull(conn, errStr)
			}
			fmt.Printf("\n[SERVER ERROR] %s\n", string(errStr))

		default:
			log.Printf("unknown report type %d, dropping connection", tagBuf[0])
			return
		}
	}
}
