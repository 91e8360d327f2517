package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AthleteRegistryMetaData contains the ABI of the athlete registry contract.
var AthleteRegistryMetaData = &bind.MetaData{
	ABI: `[
	{"type":"function","name":"registerAthlete","stateMutability":"nonpayable",
	 "inputs":[
	  {"name":"encName","type":"bytes32","internalType":"externalEuint256"},
	  {"name":"encAge","type":"bytes32","internalType":"externalEuint8"},
	  {"name":"encContact","type":"bytes32","internalType":"externalEuint64"},
	  {"name":"category","type":"uint8","internalType":"enum AthleteRegistry.SportCategory"}],
	 "outputs":[]},
	{"type":"function","name":"getAthleteInfo","stateMutability":"view",
	 "inputs":[{"name":"athlete","type":"address","internalType":"address"}],
	 "outputs":[
	  {"name":"encName","type":"bytes32","internalType":"euint256"},
	  {"name":"encAge","type":"bytes32","internalType":"euint8"},
	  {"name":"encContact","type":"bytes32","internalType":"euint64"},
	  {"name":"category","type":"uint8","internalType":"enum AthleteRegistry.SportCategory"},
	  {"name":"registrationTimestamp","type":"uint256","internalType":"uint256"},
	  {"name":"exists","type":"bool","internalType":"bool"}]},
	{"type":"function","name":"isRegistered","stateMutability":"view",
	 "inputs":[{"name":"athlete","type":"address","internalType":"address"}],
	 "outputs":[{"name":"","type":"bool","internalType":"bool"}]},
	{"type":"event","name":"AthleteRegistered","anonymous":false,
	 "inputs":[
	  {"name":"athlete","type":"address","indexed":true,"internalType":"address"},
	  {"name":"category","type":"uint8","indexed":false,"internalType":"enum AthleteRegistry.SportCategory"},
	  {"name":"timestamp","type":"uint256","indexed":false,"internalType":"uint256"}]}
]`,
}

// AthleteInfo is the getAthleteInfo return tuple.
type AthleteInfo struct {
	EncName               [32]byte
	EncAge                [32]byte
	EncContact            [32]byte
	Category              uint8
	RegistrationTimestamp *big.Int
	Exists                bool
}

// AthleteRegistryAthleteRegistered is the AthleteRegistered event.
type AthleteRegistryAthleteRegistered struct {
	Athlete   common.Address
	Category  uint8
	Timestamp *big.Int
	Raw       types.Log
}

// AthleteRegistry is a binding to a deployed athlete registry contract.
type AthleteRegistry struct {
	abi      abi.ABI
	contract *bind.BoundContract
}

// NewAthleteRegistry binds the contract at address.
func NewAthleteRegistry(address common.Address, backend bind.ContractBackend) (*AthleteRegistry, error) {
	parsed, err := AthleteRegistryMetaData.GetAbi()
	if err != nil {
		return nil, err
	}
	return &AthleteRegistry{
		abi:      *parsed,
		contract: bind.NewBoundContract(address, *parsed, backend, backend, backend),
	}, nil
}

// RegisterAthlete is a paid mutator transaction binding the contract method registerAthlete.
func (r *AthleteRegistry) RegisterAthlete(opts *bind.TransactOpts, encName, encAge, encContact [32]byte, category uint8) (*types.Transaction, error) {
	return r.contract.Transact(opts, "registerAthlete", encName, encAge, encContact, category)
}

// GetAthleteInfo is a free data retrieval call binding the contract method getAthleteInfo.
func (r *AthleteRegistry) GetAthleteInfo(opts *bind.CallOpts, athlete common.Address) (AthleteInfo, error) {
	var out []interface{}
	err := r.contract.Call(opts, &out, "getAthleteInfo", athlete)

	outstruct := new(AthleteInfo)
	if err != nil {
		return *outstruct, err
	}

	outstruct.EncName = *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	outstruct.EncAge = *abi.ConvertType(out[1], new([32]byte)).(*[32]byte)
	outstruct.EncContact = *abi.ConvertType(out[2], new([32]byte)).(*[32]byte)
	outstruct.Category = *abi.ConvertType(out[3], new(uint8)).(*uint8)
	outstruct.RegistrationTimestamp = *abi.ConvertType(out[4], new(*big.Int)).(**big.Int)
	outstruct.Exists = *abi.ConvertType(out[5], new(bool)).(*bool)

	return *outstruct, nil
}

// IsRegistered is a free data retrieval call binding the contract method isRegistered.
func (r *AthleteRegistry) IsRegistered(opts *bind.CallOpts, athlete common.Address) (bool, error) {
	var out []interface{}
	err := r.contract.Call(opts, &out, "isRegistered", athlete)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// ParseAthleteRegistered decodes an AthleteRegistered log.
func (r *AthleteRegistry) ParseAthleteRegistered(log types.Log) (*AthleteRegistryAthleteRegistered, error) {
	event := new(AthleteRegistryAthleteRegistered)
	if err := r.contract.UnpackLog(event, "AthleteRegistered", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}
