package anchor

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// FabricConfig locates the gateway peer and the client identity material
// inside a Fabric organization directory.
type FabricConfig struct {
	MSPID        string
	CryptoPath   string
	User         string
	PeerEndpoint string
	GatewayPeer  string
	Channel      string
	Chaincode    string
}

func (c FabricConfig) Validate() error {
	switch {
	case c.MSPID == "":
		return errors.New("fabric msp id is required")
	case c.CryptoPath == "":
		return errors.New("fabric crypto path is required")
	case c.PeerEndpoint == "":
		return errors.New("fabric peer endpoint is required")
	case c.Channel == "" || c.Chaincode == "":
		return errors.New("fabric channel and chaincode are required")
	}
	return nil
}

type FabricWriter struct {
	conn     *grpc.ClientConn
	gateway  *client.Gateway
	contract *client.Contract
}

// NewFabricWriter connects to the gateway peer described by cfg.
func NewFabricWriter(cfg FabricConfig) (*FabricWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.CryptoPath); err != nil {
		return nil, fmt.Errorf("crypto path %s: %w", cfg.CryptoPath, err)
	}
	user := cfg.User
	if user == "" {
		user = "User1@" + path.Base(cfg.CryptoPath)
	}

	cert, err := loadCertificate(path.Join(cfg.CryptoPath, "users", user, "msp/signcerts/cert.pem"))
	if err != nil {
		return nil, err
	}
	key, err := loadPrivateKey(path.Join(cfg.CryptoPath, "users", user, "msp/keystore"))
	if err != nil {
		return nil, err
	}

	id, err := identity.NewX509Identity(cfg.MSPID, cert)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	tlsCertPath := path.Join(cfg.CryptoPath, "peers", cfg.GatewayPeer, "tls/ca.crt")
	transportCreds, err := credentials.NewClientTLSFromFile(tlsCertPath, cfg.GatewayPeer)
	if err != nil {
		return nil, fmt.Errorf("load peer tls certificate: %w", err)
	}
	conn, err := grpc.NewClient(cfg.PeerEndpoint, grpc.WithTransportCredentials(transportCreds))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.PeerEndpoint, err)
	}

	gateway, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(5*time.Second),
		client.WithEndorseTimeout(15*time.Second),
		client.WithSubmitTimeout(5*time.Second),
		client.WithCommitStatusTimeout(1*time.Minute),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect gateway: %w", err)
	}

	return &FabricWriter{
		conn:     conn,
		gateway:  gateway,
		contract: gateway.GetNetwork(cfg.Channel).GetContract(cfg.Chaincode),
	}, nil
}

// Read evaluates the stored asset for root without creating a block.
func (f *FabricWriter) Read(root string) (string, error) {
	result, err := f.contract.EvaluateTransaction("ReadAsset", root)
	if err != nil {
		return "", fmt.Errorf("failed to read asset: %w", err)
	}
	return string(result), nil
}

// Write endorses and submits root as a new asset, then blocks until the
// commit status is known.
func (f *FabricWriter) Write(root string, metadata string) (string, error) {
	proposal, err := f.contract.NewProposal("CreateAsset",
		client.WithArguments(root, metadata, "1", "crimewatch", "0"))
	if err != nil {
		return "", fmt.Errorf("failed to create proposal: %w", err)
	}
	transaction, err := proposal.Endorse()
	if err != nil {
		return "", fmt.Errorf("failed to endorse: %w", err)
	}
	commit, err := transaction.Submit()
	if err != nil {
		return "", fmt.Errorf("failed to submit: %w", err)
	}
	status, err := commit.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get commit status: %w", err)
	}
	if !status.Successful {
		return "", fmt.Errorf("transaction %s failed with status code: %d", status.TransactionID, status.Code)
	}
	return transaction.TransactionID(), nil
}

func (f *FabricWriter) Close() error {
	f.gateway.Close()
	return f.conn.Close()
}

func loadCertificate(filename string) (*x509.Certificate, error) {
	certificatePEM, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	return identity.CertificateFromPEM(certificatePEM)
}

func loadPrivateKey(dir string) (any, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no private key in %s", dir)
	}
	privateKeyPEM, err := os.ReadFile(path.Join(dir, files[0].Name()))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	return identity.PrivateKeyFromPEM(privateKeyPEM)
}
